package audiohook_test

import (
	"testing"

	"github.com/coraltel/audiohookbridge/internal/audiohook"
)

func TestOpenParams_IsProbe(t *testing.T) {
	t.Parallel()

	const sentinel = "00000000-0000-0000-0000-000000000000"

	tests := []struct {
		name   string
		params audiohook.OpenParams
		want   bool
	}{
		{
			name: "both zero",
			params: audiohook.OpenParams{
				ConversationID: sentinel,
				Participant:    audiohook.Participant{ID: sentinel},
			},
			want: true,
		},
		{
			name: "real conversation",
			params: audiohook.OpenParams{
				ConversationID: "11111111-1111-1111-1111-111111111111",
				Participant:    audiohook.Participant{ID: sentinel},
			},
			want: false,
		},
		{
			name: "real participant",
			params: audiohook.OpenParams{
				ConversationID: sentinel,
				Participant:    audiohook.Participant{ID: "22222222-2222-2222-2222-222222222222"},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.IsProbe(); got != tt.want {
				t.Errorf("IsProbe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectMedia(t *testing.T) {
	t.Parallel()

	offered := []audiohook.MediaDescriptor{
		{Format: "PCMU", Rate: 8000},
		{Format: "OPUS", Rate: 48000},
	}
	got, ok := audiohook.SelectMedia(offered)
	if !ok {
		t.Fatal("expected a PCMU/8000 match")
	}
	if got.Format != "PCMU" || got.Rate != 8000 {
		t.Errorf("SelectMedia() = %+v, want {PCMU 8000}", got)
	}
}

func TestSelectMedia_NoSupportedFormat(t *testing.T) {
	t.Parallel()

	offered := []audiohook.MediaDescriptor{
		{Format: "OPUS", Rate: 48000},
	}
	_, ok := audiohook.SelectMedia(offered)
	if ok {
		t.Error("expected no match for an offer without PCMU/8000")
	}
}

func TestDecodeParams_EmptyIsNoOp(t *testing.T) {
	t.Parallel()

	env := &audiohook.Envelope{Type: "ping"}
	var params audiohook.ErrorParams
	if err := audiohook.DecodeParams(env, &params); err != nil {
		t.Fatalf("DecodeParams with empty parameters returned error: %v", err)
	}
	if params.Code != 0 {
		t.Errorf("expected zero-valued params, got %+v", params)
	}
}

func TestDecodeParams_MalformedJSON(t *testing.T) {
	t.Parallel()

	env := &audiohook.Envelope{Type: "error", Parameters: []byte(`{"code":`)}
	var params audiohook.ErrorParams
	if err := audiohook.DecodeParams(env, &params); err == nil {
		t.Error("expected an error for malformed parameters JSON")
	}
}
