package audit

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
)

var (
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex
	enabled      bool
)

// Init installs w as the process-wide audit writer, closing the previous
// one. A nil writer disables auditing.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	_ = globalWriter.Close()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}

	globalWriter = w
	enabled = true
	return nil
}

// InitFile opens the audit log at path on fs and installs it. An empty path
// disables auditing.
func InitFile(fs afero.Fs, path string) error {
	if path == "" {
		return Init(nil)
	}

	w, err := NewFileWriterFs(fs, path)
	if err != nil {
		return err
	}
	return Init(w)
}

// Close closes the global writer and disables auditing.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	enabled = false
	return err
}

// Enabled returns whether audit logging is active.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes an event to the global writer.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	return w.Write(event)
}

// MustLog writes an event and wraps any failure so the caller can fail the
// operation it was auditing.
//
//	if err := audit.MustLog(event); err != nil {
//	    return nil, err
//	}
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

func resultOf(success bool) Result {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// LogCACreated records the creation of a new authority.
func LogCACreated(subject, algorithm string, success bool) error {
	return MustLog(NewEvent(EventCACreated, resultOf(success)).
		WithObject(Object{Type: "ca", Subject: subject}).
		WithContext(Context{Algorithm: algorithm}))
}

// LogCALoaded records loading an authority from a directory.
func LogCALoaded(dir, subject string, success bool, reason string) error {
	return MustLog(NewEvent(EventCALoaded, resultOf(success)).
		WithObject(Object{Type: "ca", Path: dir, Subject: subject}).
		WithContext(Context{Reason: reason}))
}

// LogCASaved records writing an authority to a directory.
func LogCASaved(dir, subject string, success bool) error {
	return MustLog(NewEvent(EventCASaved, resultOf(success)).
		WithObject(Object{Type: "ca", Path: dir, Subject: subject}))
}

// LogKeyAccessed records an attempt to decrypt a private key.
func LogKeyAccessed(path string, success bool, reason string) error {
	return MustLog(NewEvent(EventKeyAccessed, resultOf(success)).
		WithObject(Object{Type: "key", Path: path}).
		WithContext(Context{Reason: reason}))
}

// LogSerialReserved records a serial number being consumed.
func LogSerialReserved(caSubject, serial string) error {
	return MustLog(NewEvent(EventSerialReserved, ResultSuccess).
		WithObject(Object{Type: "serial", Serial: serial}).
		WithContext(Context{CA: caSubject}))
}

// LogCertIssued records a signed certificate.
func LogCertIssued(caSubject, serial, subject, role, fingerprint string, success bool) error {
	return MustLog(NewEvent(EventCertIssued, resultOf(success)).
		WithObject(Object{Type: "certificate", Serial: serial, Subject: subject}).
		WithContext(Context{CA: caSubject, Role: role, Fingerprint: fingerprint}))
}

// LogAuthFailed records a rejected passphrase.
func LogAuthFailed(path, reason string) error {
	return MustLog(NewEvent(EventAuthFailed, ResultFailure).
		WithObject(Object{Type: "key", Path: path}).
		WithContext(Context{Reason: reason}))
}
