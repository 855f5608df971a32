package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bamba9016/vente/internal/store"
)

func TestDecodeLike(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{name: "number", in: `{"user_id": 7}`, want: 7},
		{name: "numeric string", in: `{"user_id": "7"}`, want: 7},
		{name: "missing", in: `{}`, wantErr: true},
		{name: "null", in: `{"user_id": null}`, wantErr: true},
		{name: "zero", in: `{"user_id": 0}`, wantErr: true},
		{name: "float", in: `{"user_id": 1.5}`, wantErr: true},
		{name: "not json", in: `user_id=7`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeLike([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.UserID)
		})
	}
}

func TestDecodeChat(t *testing.T) {
	got, err := DecodeChat([]byte(`{"message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Message)

	for _, in := range []string{`{}`, `{"message":""}`, `{"message":"   "}`, `{"message":3}`, `[`} {
		_, err := DecodeChat([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestDecodeErrorsNameFields(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		dec  func([]byte) error
	}{
		{"chat message number", `{"message": 5}`, "malformed message: message has the wrong type", chat},
		{"comment type object", `{"type": {}, "content": "x"}`, "malformed message: type has the wrong type", comment},
		{"array frame", `[1, 2]`, "malformed message: expected a JSON object", chat},
		{"truncated", `{"message": "hi"`, "malformed message: invalid JSON", chat},
		{"garbage", `not json`, "malformed message: invalid JSON", comment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dec([]byte(tt.in))
			require.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, tt.want, err.Error())
			assert.NotContains(t, err.Error(), "Go ")
		})
	}
}

func chat(data []byte) error {
	_, err := DecodeChat(data)
	return err
}

func comment(data []byte) error {
	_, err := DecodeComment(data)
	return err
}

func TestDecodeComment(t *testing.T) {
	req, err := DecodeComment([]byte(`{"type":"new_comment","content":"joli"}`))
	require.NoError(t, err)
	assert.Equal(t, NewCommentRequest{Content: "joli"}, req)

	req, err = DecodeComment([]byte(`{"type":"new_reply","content":"ok","parent_id":501}`))
	require.NoError(t, err)
	assert.Equal(t, NewReplyRequest{Content: "ok", ParentID: 501}, req)

	_, err = DecodeComment([]byte(`{"type":"edit_comment","content":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	for _, in := range []string{
		`{"content":"no type"}`,
		`{"type":"new_comment"}`,
		`{"type":"new_reply","content":"ok"}`,
		`{"type":"new_reply","content":"","parent_id":1}`,
		`not json`,
	} {
		_, err := DecodeComment([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestCommentEventShape(t *testing.T) {
	parent := int64(501)
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	ev := NewCommentEvent(
		store.Comment{ID: 502, PostID: 10, UserID: 3, Content: "ok", CreatedAt: at, ParentID: &parent},
		store.User{ID: 3, Username: "awa"},
	)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "comment",
		"comment": {
			"id": 502,
			"user": {
				"id": 3,
				"username": "awa",
				"profile_picture": "https://placehold.co/120x120",
				"profile_url": "/profilepublication/3/"
			},
			"content": "ok",
			"created_at": "2026-03-01T12:30:00Z",
			"parent_comment": 501,
			"replies": []
		}
	}`, string(raw))

	top := NewCommentEvent(store.Comment{ID: 1, CreatedAt: at}, store.User{ID: 3})
	raw, err = json.Marshal(top)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"parent_comment":null`)
}

func TestChatMessageShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.FixedZone("WAT", 3600))
	msg := NewChatMessage(
		store.Message{ID: 11, SenderID: 3, RecipientID: 9, Content: "hi", Timestamp: at},
		store.User{ID: 3, Username: "koffi"},
	)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"message_id": 11,
		"sender_id": 3,
		"sender_username": "koffi",
		"content": "hi",
		"timestamp": "2026-03-01T07:00:00Z"
	}`, string(raw))
}

func TestNotifications(t *testing.T) {
	actor := store.User{ID: 3, Username: "koffi"}
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	like := LikeNotification(actor, 42, at)
	assert.Equal(t, NotifyLike, like.Kind)
	require.NotNil(t, like.PostID)
	assert.Equal(t, int64(42), *like.PostID)

	parent := int64(1)
	reply := CommentNotification(actor, store.Comment{ID: 2, PostID: 42, ParentID: &parent, CreatedAt: at})
	assert.Equal(t, NotifyReply, reply.Kind)

	msg := MessageNotification(actor, store.Message{ID: 5, Timestamp: at})
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "post_id")
	assert.Contains(t, string(raw), `"message_id":5`)
}
