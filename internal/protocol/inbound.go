// Package protocol defines the JSON frames exchanged with websocket clients.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformed wraps every decoding and validation failure of an
	// inbound frame.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for a comment frame with an unknown type.
	ErrUnknownType = errors.New("unknown message type")
)

// Comment frame types.
const (
	TypeNewComment = "new_comment"
	TypeNewReply   = "new_reply"
)

// ID is a positive identifier that clients may send as a JSON number or a
// numeric string.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: null id", ErrMalformed)
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%w: id %s is not an integer", ErrMalformed, data)
		}
		raw = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: id %s is not an integer", ErrMalformed, data)
	}
	if v <= 0 {
		return fmt.Errorf("%w: id %d must be positive", ErrMalformed, v)
	}
	*id = ID(v)
	return nil
}

// decode reports failures in terms of the frame's fields. The decoder's own
// messages name Go types and are kept out of client error frames.
func decode(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil || errors.Is(err, ErrMalformed) {
		return err
	}
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return fmt.Errorf("%w: %s has the wrong type", ErrMalformed, typeErr.Field)
	case errors.As(err, &typeErr):
		return fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	case errors.As(err, &syntaxErr):
		return fmt.Errorf("%w: invalid JSON", ErrMalformed)
	default:
		return ErrMalformed
	}
}

// LikeRequest toggles the like of UserID on the connection's post.
type LikeRequest struct {
	UserID int64
}

func DecodeLike(data []byte) (LikeRequest, error) {
	var in struct {
		UserID *ID `json:"user_id"`
	}
	if err := decode(data, &in); err != nil {
		return LikeRequest{}, err
	}
	if in.UserID == nil {
		return LikeRequest{}, fmt.Errorf("%w: user_id is required", ErrMalformed)
	}
	return LikeRequest{UserID: int64(*in.UserID)}, nil
}

// ChatRequest is one direct message from the connected user.
type ChatRequest struct {
	Message string
}

func DecodeChat(data []byte) (ChatRequest, error) {
	var in struct {
		Message *string `json:"message"`
	}
	if err := decode(data, &in); err != nil {
		return ChatRequest{}, err
	}
	if in.Message == nil {
		return ChatRequest{}, fmt.Errorf("%w: message is required", ErrMalformed)
	}
	if strings.TrimSpace(*in.Message) == "" {
		return ChatRequest{}, fmt.Errorf("%w: message must not be empty", ErrMalformed)
	}
	return ChatRequest{Message: *in.Message}, nil
}

// CommentRequest is either a NewCommentRequest or a NewReplyRequest.
type CommentRequest interface {
	commentRequest()
}

// NewCommentRequest attaches a comment directly to the connection's post.
type NewCommentRequest struct {
	Content string
}

// NewReplyRequest answers an existing comment.
type NewReplyRequest struct {
	Content  string
	ParentID int64
}

func (NewCommentRequest) commentRequest() {}
func (NewReplyRequest) commentRequest()   {}

func DecodeComment(data []byte) (CommentRequest, error) {
	var in struct {
		Type     string  `json:"type"`
		Content  *string `json:"content"`
		ParentID *ID     `json:"parent_id"`
	}
	if err := decode(data, &in); err != nil {
		return nil, err
	}

	content := ""
	if in.Content != nil {
		content = *in.Content
	}

	switch in.Type {
	case TypeNewComment:
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("%w: content is required", ErrMalformed)
		}
		return NewCommentRequest{Content: content}, nil
	case TypeNewReply:
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("%w: content is required", ErrMalformed)
		}
		if in.ParentID == nil {
			return nil, fmt.Errorf("%w: parent_id is required", ErrMalformed)
		}
		return NewReplyRequest{Content: content, ParentID: int64(*in.ParentID)}, nil
	case "":
		return nil, fmt.Errorf("%w: type is required", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
}
