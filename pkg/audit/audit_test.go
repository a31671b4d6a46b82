package audit

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Event Tests
// =============================================================================

func TestU_NewEvent_Creation(t *testing.T) {
	event := NewEvent(EventCertIssued, ResultSuccess)

	assert.Equal(t, EventCertIssued, event.EventType)
	assert.Equal(t, ResultSuccess, event.Result)
	assert.NotEmpty(t, event.ID)
	assert.NotEmpty(t, event.Timestamp)
	assert.Equal(t, "user", event.Actor.Type)
	assert.NotEqual(t, event.ID, NewEvent(EventCertIssued, ResultSuccess).ID)
}

func TestU_NewEvent_UnknownUser(t *testing.T) {
	t.Setenv("USER", "")
	t.Setenv("USERNAME", "")

	assert.Equal(t, "unknown", NewEvent(EventCALoaded, ResultSuccess).Actor.ID)
}

func TestU_NewEvent_UsernameEnvVar(t *testing.T) {
	t.Setenv("USER", "")
	t.Setenv("USERNAME", "operator")

	assert.Equal(t, "operator", NewEvent(EventCALoaded, ResultSuccess).Actor.ID)
}

func TestU_Event_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{
			name:  "[Unit] Validate: valid event",
			event: NewEvent(EventCertIssued, ResultSuccess),
		},
		{
			name: "[Unit] Validate: missing id",
			event: &Event{
				EventType: EventCertIssued,
				Timestamp: "2024-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing event_type",
			event: &Event{
				ID:        "x",
				Timestamp: "2024-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing timestamp",
			event: &Event{
				ID:        "x",
				EventType: EventCertIssued,
				Actor:     Actor{Type: "user", ID: "admin"},
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing actor",
			event: &Event{
				ID:        "x",
				EventType: EventCertIssued,
				Timestamp: "2024-01-15T10:00:00Z",
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[Unit] Validate: missing result",
			event: &Event{
				ID:        "x",
				EventType: EventCertIssued,
				Timestamp: "2024-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestU_Event_CanonicalJSON(t *testing.T) {
	event := NewEvent(EventCertIssued, ResultSuccess).
		WithObject(Object{Type: "certificate", Serial: "0B"})
	event.HashPrev = GenesisHash
	event.Hash = "sha256:ignored"

	canonical, err := event.CanonicalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(canonical), `"hash":`)
	assert.Contains(t, string(canonical), `"hash_prev":`)

	var parsed map[string]interface{}
	assert.NoError(t, json.Unmarshal(canonical, &parsed))
}

// =============================================================================
// FileWriter Tests
// =============================================================================

func TestU_FileWriter_Write(t *testing.T) {
	fs := afero.NewMemMapFs()

	writer, err := NewFileWriterFs(fs, "/audit.jsonl")
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	event1 := NewEvent(EventCACreated, ResultSuccess).WithObject(Object{Type: "ca", Subject: "/CN=CA"})
	require.NoError(t, writer.Write(event1))
	assert.Equal(t, GenesisHash, event1.HashPrev)
	assert.True(t, strings.HasPrefix(event1.Hash, HashPrefix))

	event2 := NewEvent(EventCertIssued, ResultSuccess).WithObject(Object{Type: "certificate", Serial: "01"})
	require.NoError(t, writer.Write(event2))
	assert.Equal(t, event1.Hash, event2.HashPrev)
	assert.Equal(t, event2.Hash, writer.LastHash())

	data, err := afero.ReadFile(fs, "/audit.jsonl")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestU_FileWriter_Append(t *testing.T) {
	fs := afero.NewMemMapFs()

	w1, err := NewFileWriterFs(fs, "/audit.jsonl")
	require.NoError(t, err)
	first := NewEvent(EventCACreated, ResultSuccess)
	require.NoError(t, w1.Write(first))
	require.NoError(t, w1.Close())

	w2, err := NewFileWriterFs(fs, "/audit.jsonl")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, w2.LastHash())

	second := NewEvent(EventCALoaded, ResultSuccess)
	require.NoError(t, w2.Write(second))
	require.NoError(t, w2.Close())
	assert.Equal(t, first.Hash, second.HashPrev)

	n, err := VerifyChain(fs, "/audit.jsonl")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestU_FileWriter_OsFs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	writer, err := NewFileWriter(path)
	require.NoError(t, err)
	assert.Equal(t, path, writer.Path())
	require.NoError(t, writer.Write(NewEvent(EventCASaved, ResultSuccess)))
	require.NoError(t, writer.Close())

	n, err := VerifyChain(afero.NewOsFs(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestU_FileWriter_CloseIdempotent(t *testing.T) {
	writer, err := NewFileWriterFs(afero.NewMemMapFs(), "/audit.jsonl")
	require.NoError(t, err)

	assert.NoError(t, writer.Close())
	assert.NoError(t, writer.Close())
}

func TestU_FileWriter_WriteAfterClose(t *testing.T) {
	writer, err := NewFileWriterFs(afero.NewMemMapFs(), "/audit.jsonl")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.Error(t, writer.Write(NewEvent(EventCACreated, ResultSuccess)))
}

func TestU_FileWriter_InvalidEvent(t *testing.T) {
	writer, err := NewFileWriterFs(afero.NewMemMapFs(), "/audit.jsonl")
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	assert.Error(t, writer.Write(&Event{EventType: EventCACreated}))
	assert.Equal(t, GenesisHash, writer.LastHash())
}

func TestU_FileWriter_CorruptTail(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/audit.jsonl", []byte("{not json}\n"), 0600))

	_, err := NewFileWriterFs(fs, "/audit.jsonl")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/nohash.jsonl", []byte(`{"id":"x"}`+"\n"), 0600))
	_, err = NewFileWriterFs(fs, "/nohash.jsonl")
	assert.Error(t, err)
}

func TestU_FileWriter_ConcurrentWrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	writer, err := NewFileWriterFs(fs, "/audit.jsonl")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, writer.Write(NewEvent(EventSerialReserved, ResultSuccess)))
		}()
	}
	wg.Wait()
	require.NoError(t, writer.Close())

	n, err := VerifyChain(fs, "/audit.jsonl")
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

// =============================================================================
// VerifyChain Tests
// =============================================================================

func TestU_VerifyChain_Tampering(t *testing.T) {
	fs := afero.NewMemMapFs()
	writer, err := NewFileWriterFs(fs, "/audit.jsonl")
	require.NoError(t, err)
	require.NoError(t, writer.Write(NewEvent(EventCertIssued, ResultSuccess).
		WithObject(Object{Type: "certificate", Subject: "/CN=foo.com"})))
	require.NoError(t, writer.Write(NewEvent(EventCertIssued, ResultSuccess)))
	require.NoError(t, writer.Close())

	data, err := afero.ReadFile(fs, "/audit.jsonl")
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "/CN=foo.com", "/CN=evil.com", 1)
	require.NoError(t, afero.WriteFile(fs, "/audit.jsonl", []byte(tampered), 0600))

	n, err := VerifyChain(fs, "/audit.jsonl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
	assert.Equal(t, 0, n)
}

func TestU_VerifyChain_BrokenChain(t *testing.T) {
	fs := afero.NewMemMapFs()
	writer, err := NewFileWriterFs(fs, "/audit.jsonl")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, writer.Write(NewEvent(EventSerialReserved, ResultSuccess)))
	}
	require.NoError(t, writer.Close())

	data, err := afero.ReadFile(fs, "/audit.jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	dropped := lines[0] + "\n" + lines[2] + "\n"
	require.NoError(t, afero.WriteFile(fs, "/audit.jsonl", []byte(dropped), 0600))

	n, err := VerifyChain(fs, "/audit.jsonl")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "hash chain broken")
	assert.Equal(t, 1, n)
}

func TestU_VerifyChain_EdgeCases(t *testing.T) {
	fs := afero.NewMemMapFs()

	t.Run("[Unit] VerifyChain: missing file", func(t *testing.T) {
		_, err := VerifyChain(fs, "/missing.jsonl")
		assert.Error(t, err)
	})

	t.Run("[Unit] VerifyChain: empty file", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/empty.jsonl", nil, 0600))
		n, err := VerifyChain(fs, "/empty.jsonl")
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("[Unit] VerifyChain: invalid JSON", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/bad.jsonl", []byte("nope\n"), 0600))
		_, err := VerifyChain(fs, "/bad.jsonl")
		assert.Error(t, err)
	})

	t.Run("[Unit] VerifyChain: blank lines are skipped", func(t *testing.T) {
		w, err := NewFileWriterFs(fs, "/blank.jsonl")
		require.NoError(t, err)
		require.NoError(t, w.Write(NewEvent(EventCACreated, ResultSuccess)))
		require.NoError(t, w.Close())

		data, err := afero.ReadFile(fs, "/blank.jsonl")
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, "/blank.jsonl", append([]byte("\n  \n"), data...), 0600))

		n, err := VerifyChain(fs, "/blank.jsonl")
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

// =============================================================================
// MemoryWriter / NopWriter Tests
// =============================================================================

func TestU_MemoryWriter_Chain(t *testing.T) {
	w := NewMemoryWriter()
	require.NoError(t, w.Write(NewEvent(EventCACreated, ResultSuccess)))
	require.NoError(t, w.Write(NewEvent(EventCertIssued, ResultSuccess)))

	events := w.Events()
	require.Len(t, events, 2)
	assert.Equal(t, GenesisHash, events[0].HashPrev)
	assert.Equal(t, events[0].Hash, events[1].HashPrev)
	assert.Equal(t, events[1].Hash, w.LastHash())
	assert.Equal(t, []EventType{EventCACreated, EventCertIssued}, w.Types())
}

func TestU_NopWriter_Write(t *testing.T) {
	var w NopWriter
	assert.NoError(t, w.Write(NewEvent(EventCACreated, ResultSuccess)))
	assert.Equal(t, GenesisHash, w.LastHash())
	assert.NoError(t, w.Close())
}

// =============================================================================
// Global Audit Tests
// =============================================================================

func TestU_GlobalAudit_InitAndLog(t *testing.T) {
	w := NewMemoryWriter()
	require.NoError(t, Init(w))
	defer func() { _ = Close() }()

	assert.True(t, Enabled())
	require.NoError(t, LogCACreated("/CN=CA", "RSA-2048", true))
	require.NoError(t, LogCALoaded("/ca", "/CN=CA", true, ""))
	require.NoError(t, LogCASaved("/ca", "/CN=CA", true))
	require.NoError(t, LogKeyAccessed("/ca/cakey.pem", false, "wrong passphrase"))
	require.NoError(t, LogAuthFailed("/ca/cakey.pem", "wrong passphrase"))
	require.NoError(t, LogSerialReserved("/CN=CA", "0B"))
	require.NoError(t, LogCertIssued("/CN=CA", "0B", "/CN=foo.com", "server", "AB:CD", true))

	assert.Equal(t, []EventType{
		EventCACreated, EventCALoaded, EventCASaved, EventKeyAccessed,
		EventAuthFailed, EventSerialReserved, EventCertIssued,
	}, w.Types())

	events := w.Events()
	assert.Equal(t, ResultFailure, events[3].Result)
	assert.Equal(t, "wrong passphrase", events[3].Context.Reason)
	assert.Equal(t, "0B", events[6].Object.Serial)
	assert.Equal(t, "server", events[6].Context.Role)
}

func TestU_GlobalAudit_Disabled(t *testing.T) {
	require.NoError(t, Init(nil))
	assert.False(t, Enabled())
	assert.NoError(t, LogCertIssued("/CN=CA", "01", "/CN=x", "client", "", true))
	assert.NoError(t, Close())
	assert.NoError(t, Close())
}

func TestU_GlobalAudit_InitFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, InitFile(fs, ""))
	assert.False(t, Enabled())

	require.NoError(t, InitFile(fs, "/audit.jsonl"))
	assert.True(t, Enabled())
	require.NoError(t, LogSerialReserved("/CN=CA", "01"))
	require.NoError(t, Close())
	assert.False(t, Enabled())

	n, err := VerifyChain(fs, "/audit.jsonl")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestU_MustLog_Error(t *testing.T) {
	w, err := NewFileWriterFs(afero.NewMemMapFs(), "/audit.jsonl")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, Init(w))
	defer func() { _ = Close() }()

	err = MustLog(NewEvent(EventCACreated, ResultSuccess))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "audit log failed")
}
