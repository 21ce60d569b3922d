package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestDefaultCategories(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeConnectionFailed, CategoryTransient},
		{ErrCodeChannelFault, CategoryTransient},
		{ErrCodeUnconfirmed, CategoryTransient},
		{ErrCodeHandlerFailed, CategoryTransient},
		{ErrCodeMalformed, CategoryPermanent},
		{ErrCodeUnknownType, CategoryPermanent},
		{ErrCodeNotFound, CategoryPermanent},
		{ErrCodeRollbackFailed, CategoryInternal},
		{ErrCodePanic, CategoryInternal},
	}

	for _, tt := range tests {
		if got := tt.code.DefaultCategory(); got != tt.want {
			t.Errorf("DefaultCategory(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestRetryability(t *testing.T) {
	if !New(ErrCodeHandlerFailed, "boom").Retryable() {
		t.Error("handler failure should be retryable by default")
	}
	if New(ErrCodeMalformed, "bad body").Retryable() {
		t.Error("malformed message should not be retryable")
	}
	if New(ErrCodeHandlerFailed, "boom", WithRetryable(false)).Retryable() {
		t.Error("explicit retryable=false ignored")
	}
}

func TestErrorContext(t *testing.T) {
	err := Unconfirmed("worker-inbox", WithTaskID("T-1"), WithMessageID("m-1"))
	if err.Queue() != "worker-inbox" {
		t.Errorf("queue = %q", err.Queue())
	}
	if err.TaskID() != "T-1" || err.MessageID() != "m-1" {
		t.Errorf("task = %q, message = %q", err.TaskID(), err.MessageID())
	}
	if Code(err) != ErrCodeUnconfirmed {
		t.Errorf("code = %s", Code(err))
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := Malformed("worker-inbox", fmt.Errorf("bad json"))
	wrapped := Wrap(inner, "consume failed")

	if Code(wrapped) != ErrCodeMalformed {
		t.Errorf("code after wrap = %s, want MALFORMED_MESSAGE", Code(wrapped))
	}
	if wrapped.Queue() != "worker-inbox" {
		t.Errorf("queue lost in wrap: %q", wrapped.Queue())
	}
	if !stderrors.Is(wrapped, inner) {
		t.Error("wrapped error chain broken")
	}
}

func TestWrapContextErrors(t *testing.T) {
	if Code(Wrap(context.DeadlineExceeded, "publish")) != ErrCodeTimeout {
		t.Error("deadline not mapped to TIMEOUT")
	}
	if Code(Wrap(context.Canceled, "publish")) != ErrCodeCanceled {
		t.Error("cancel not mapped to CANCELED")
	}
	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestCause(t *testing.T) {
	root := fmt.Errorf("disk full")
	err := Wrap(WrapWithCode(root, ErrCodeHandlerFailed, "store write"), "processing")
	if Cause(err) != root {
		t.Errorf("Cause = %v, want %v", Cause(err), root)
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) should be nil")
	}
	err := RecoverPanic("index out of range")
	if err.Code() != ErrCodePanic || err.Category() != CategoryInternal {
		t.Errorf("panic error = %s/%s", err.Code(), err.Category())
	}
}
