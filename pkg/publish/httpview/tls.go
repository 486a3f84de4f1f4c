package httpview

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/utils/certs/traefik"
)

var ErrNoCertificate = errors.New("no certificate configured")

// TLSFiles names the sources of the server certificate. A traefik acme
// store takes precedence over a plain key pair.
type TLSFiles struct {
	CertFile      string
	KeyFile       string
	CAFile        string
	TraefikFile   string
	TraefikDomain string
}

func (f TLSFiles) Enabled() bool {
	return (f.CertFile != "" && f.KeyFile != "") ||
		(f.TraefikFile != "" && f.TraefikDomain != "")
}

type certReloader struct {
	files TLSFiles
	l     *log.Logger
	mu    sync.RWMutex
	cert  *tls.Certificate
}

// NewTLSConfig loads the certificate and reloads it whenever one of the
// files changes until ctx is done.
//
//nolint:whitespace // can't make both editor and linter happy
func NewTLSConfig(ctx context.Context, files TLSFiles, l *log.Logger) (
	*tls.Config, error,
) {
	if !files.Enabled() {
		return nil, ErrNoCertificate
	}
	r := &certReloader{files: files, l: l}
	if err := r.load(); err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			r.mu.RLock()
			defer r.mu.RUnlock()
			return r.cert, nil
		},
		MinVersion: tls.VersionTLS13,
	}
	if files.CAFile != "" {
		ca, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("no certificates in %s", files.CAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, f := range []string{files.CertFile, files.KeyFile, files.TraefikFile} {
		if f == "" {
			continue
		}
		if err := watcher.Add(f); err != nil {
			l.Warn("could not watch file", log.String("file", f), log.ErrorField(err))
		}
	}
	go r.watch(ctx, watcher)
	return cfg, nil
}

func (r *certReloader) load() error {
	var (
		cert tls.Certificate
		err  error
	)
	if r.files.TraefikFile != "" && r.files.TraefikDomain != "" {
		cert, err = traefik.LoadFile(r.files.TraefikFile, r.files.TraefikDomain)
	} else {
		cert, err = tls.LoadX509KeyPair(r.files.CertFile, r.files.KeyFile)
	}
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

func (r *certReloader) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Chmod) &&
				!ev.Has(fsnotify.Create) {

				continue
			}
			r.l.Info("certificate source changed, reloading", log.String("file", ev.Name))
			// keep serving the previous certificate if the new one is broken
			if err := r.load(); err != nil {
				r.l.Error("could not reload certificate", log.ErrorField(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.l.Error("watcher error", log.ErrorField(err))
		}
	}
}
