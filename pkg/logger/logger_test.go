package logger

import "testing"

func TestMockLoggerRecordsMessages(t *testing.T) {
	mock := NewMockLogger()

	mock.Info("scan started", "scan_id", 1)
	mock.Error("checker failed", "service", "iam")

	msgs := mock.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Level != "INFO" || msgs[0].Msg != "scan started" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if !mock.HasMessage("ERROR", "checker failed") {
		t.Error("expected ERROR message to be recorded")
	}
}

func TestMockLoggerWithBindsAttrs(t *testing.T) {
	mock := NewMockLogger()

	child := mock.With("service", "s3")
	child.Warn("bucket check skipped")

	msgs := mock.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if len(msgs[0].Args) != 2 || msgs[0].Args[0] != "service" {
		t.Errorf("expected bound attrs on message, got %v", msgs[0].Args)
	}
}

func TestSetGlobalLogger(t *testing.T) {
	orig := GetGlobalLogger()
	defer SetGlobalLogger(orig)

	mock := NewMockLogger()
	SetGlobalLogger(mock)

	Info("hello")
	if !mock.HasMessage("INFO", "hello") {
		t.Error("global Info should route to the installed logger")
	}
}
