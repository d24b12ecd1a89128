package chat

import (
	"context"
	"encoding/json"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/model"
)

func sessionKey(id model.SessionID) string {
	return "sessions/" + string(id) + ".json"
}

// LoadSession restores an archived session from storage
func LoadSession(ctx context.Context, storage adapter.Storage, id model.SessionID) (*Session, error) {
	reader, err := storage.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get session from storage", goerr.V("session_id", id))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read session data", goerr.V("session_id", id))
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal session", goerr.V("session_id", id))
	}
	if sess.ID == "" {
		sess.ID = id
	}
	sess.trim()
	return &sess, nil
}

// SaveSession archives the session to storage
func SaveSession(ctx context.Context, storage adapter.Storage, sess *Session) error {
	writer, err := storage.Put(ctx, sessionKey(sess.ID))
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer", goerr.V("session_id", sess.ID))
	}
	defer writer.Close()

	data, err := json.Marshal(sess)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal session", goerr.V("session_id", sess.ID))
	}

	if _, err := writer.Write(data); err != nil {
		return goerr.Wrap(err, "failed to write session to storage", goerr.V("session_id", sess.ID))
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer", goerr.V("session_id", sess.ID))
	}

	return nil
}
