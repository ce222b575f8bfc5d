package mongodb

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tarimpazar/agrisync/internal/remote"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want remote.Kind
	}{
		{"no documents", mongo.ErrNoDocuments, remote.NotFound},
		{"wrapped no documents", fmt.Errorf("decode: %w", mongo.ErrNoDocuments), remote.NotFound},
		{"deadline", context.DeadlineExceeded, remote.Unreachable},
		{"disconnected", mongo.ErrClientDisconnected, remote.Unreachable},
		{"unauthorized", mongo.CommandError{Code: codeUnauthorized, Message: "not authorized on agri"}, remote.PermissionDenied},
		{"auth failed code", mongo.CommandError{Code: codeAuthenticationFailed, Message: "Authentication failed."}, remote.Unauthenticated},
		{"auth failed handshake", errors.New("connection() error occurred during connection handshake: auth error: sasl conversation error: unable to authenticate using mechanism \"SCRAM-SHA-256\": (AuthenticationFailed) Authentication failed."), remote.Unauthenticated},
		{"other server error", mongo.CommandError{Code: 2, Message: "BadValue"}, remote.Unknown},
		{"plain", errors.New("boom"), remote.Unknown},
	}
	for _, tt := range tests {
		err := classify("fetch all listings", tt.err)
		var f *remote.Fault
		if !errors.As(err, &f) {
			t.Errorf("%s: classify returned %T, want *remote.Fault", tt.name, err)
			continue
		}
		if f.Kind != tt.want {
			t.Errorf("%s: kind = %v, want %v", tt.name, f.Kind, tt.want)
		}
		if f.Op != "fetch all listings" {
			t.Errorf("%s: op = %q", tt.name, f.Op)
		}
	}
}

func TestClassify_NilAndFault(t *testing.T) {
	if classify("x", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
	orig := &remote.Fault{Kind: remote.NotFound, Op: "inner"}
	if got := classify("outer", orig); got != error(orig) {
		t.Errorf("classify should pass faults through, got %v", got)
	}
}
