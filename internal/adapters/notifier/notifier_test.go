package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vncsmyrnk/urna/internal/core/domain"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	ballot := domain.Ballot{
		ID:         uuid.New(),
		ElectionID: uuid.New(),
		VoterID:    uuid.New(),
		Token:      "header.payload.abcdefghijklmnop",
		CreatedAt:  time.Now(),
	}
	require.NoError(t, n.BallotCast(context.Background(), ballot))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ballot receipt", entry["msg"])
	assert.Equal(t, ballot.ID.String(), entry["ballot_id"])
	assert.Equal(t, "abcdefghijkl...", entry["token_preview"])
}
