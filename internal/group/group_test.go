package group

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatIsCommutative(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "chat_3_9", Chat(3, 9))
	assert.Equal(t, "chat_3_9", Chat(9, 3))
	assert.Equal(t, "chat_5_5", Chat(5, 5))

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		a, b := r.Int63n(1_000_000)+1, r.Int63n(1_000_000)+1
		require.Equal(t, Chat(a, b), Chat(b, a), "a=%d b=%d", a, b)
	}
}

func TestGroupNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "like_42", Like(42))
	assert.Equal(t, "publication_10", Comments(10))
	assert.Equal(t, "notifications_7", Notifications(7))
}

func TestParseID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "plain", raw: "42", want: 42},
		{name: "spaces", raw: " 7 ", want: 7},
		{name: "zero", raw: "0", wantErr: true},
		{name: "negative", raw: "-3", wantErr: true},
		{name: "text", raw: "abc", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseID(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
