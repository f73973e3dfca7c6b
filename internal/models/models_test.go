package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestProject_Fields(t *testing.T) {
	typ := reflect.TypeOf(Project{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Path", "uniqueIndex:idx_project_path_source")
	assertGormTag(t, typ, "Source", "uniqueIndex:idx_project_path_source")
	assertGormTag(t, typ, "Source", "default:claude")
	assertGormTag(t, typ, "Name", "not null")
	assertGormTag(t, typ, "CreatedAt", "autoCreateTime:milli")
	assertGormTag(t, typ, "UpdatedAt", "autoUpdateTime:milli")
	assertFieldType(t, typ, "ID", "int64")
	assertFieldType(t, typ, "CreatedAt", "int64")
}

func TestSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(Session{})

	assertGormTag(t, typ, "SessionID", "uniqueIndex")
	assertGormTag(t, typ, "ProjectID", "index")
	assertGormTag(t, typ, "MessageCount", "default:0")
	assertGormTag(t, typ, "LastMessageAt", "index")
	assertFieldType(t, typ, "LastMessageAt", "*int64")
	assertFieldType(t, typ, "ProjectID", "int64")
}

func TestMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(Message{})

	assertGormTag(t, typ, "SessionID", "uniqueIndex:idx_message_session_uuid")
	assertGormTag(t, typ, "UUID", "uniqueIndex:idx_message_session_uuid")
	assertGormTag(t, typ, "UUID", "column:uuid")
	assertGormTag(t, typ, "Content", "type:text")
	assertGormTag(t, typ, "Timestamp", "index")
	assertGormTag(t, typ, "Sequence", "index:idx_message_session_seq")
	assertFieldType(t, typ, "Timestamp", "int64")
	assertFieldType(t, typ, "Sequence", "int64")
}

func TestScanCheckpoint_Fields(t *testing.T) {
	typ := reflect.TypeOf(ScanCheckpoint{})

	assertGormTag(t, typ, "SessionID", "primaryKey")
	assertGormTag(t, typ, "Generation", "default:0")
	assertGormTag(t, typ, "Offset", "default:0")
	assertFieldType(t, typ, "Offset", "int64")
	assertFieldType(t, typ, "LastTimestamp", "int64")
	assertFieldType(t, typ, "FileID", "int64")
}

func TestWriterLease_Fields(t *testing.T) {
	typ := reflect.TypeOf(WriterLease{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement:false")
	assertGormTag(t, typ, "State", "default:released")
	assertFieldType(t, typ, "Heartbeat", "int64")
	assertFieldType(t, typ, "Priority", "int")
	if WriterLeaseID != 1 {
		t.Errorf("WriterLeaseID = %d, want 1", WriterLeaseID)
	}
}

func TestMessage_Instantiation(t *testing.T) {
	m := Message{
		SessionID: "sess-1",
		UUID:      "m1",
		Role:      "user",
		Content:   "hello",
		Timestamp: 1700000000000,
		Sequence:  3,
	}
	if m.UUID != "m1" || m.Sequence != 3 {
		t.Errorf("unexpected message: %+v", m)
	}
}
