// Package driver implements C5: the endpoint driver tying the PSK store,
// channel-key derivation, control protocol, channel registry and daemon
// bridge together around a single QUIC listener and dialer. It is the
// renamed, re-scoped descendant of the teacher's server.go Server: the
// same New(cfg) (*Driver, error) shape and the same most-dependent-first
// teardown discipline, re-keyed from a mix-net relay to an AQC channel
// plane.
//
// It is kept out of the root aqc package (which stays a types-only leaf)
// because every internal/* package it wires together already imports aqc
// for its types; aqc importing driver importing internal/* importing aqc
// would be a cycle.
package driver

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync"

	"github.com/op/go-logging"
	"github.com/quic-go/quic-go"

	aqc "github.com/aranya-project/aqc-go"
	"github.com/aranya-project/aqc-go/config"
	"github.com/aranya-project/aqc-go/daemon"
	"github.com/aranya-project/aqc-go/internal/pskstore"
	"github.com/aranya-project/aqc-go/internal/registry"
)

// quicListener is the slice of *quic.Listener this package depends on:
// the accept loop's Accept and the shutdown path's Close.
type quicListener interface {
	Accept(ctx context.Context) (quic.Connection, error)
	Close() error
}

// pendingAccept is what the accept loop hands to ReceiveChannel/
// TryReceiveChannel once a channel-identity connection's proof verifies:
// the connection itself plus the registry record that authorizes it.
type pendingAccept struct {
	conn quic.Connection
	info aqc.ChannelInfo
}

// Driver is one AQC endpoint: one QUIC accept side, one dial-only client
// side, and the C1-C4/C7 components wired around them.
type Driver struct {
	cfg *config.Config

	logBackend logging.LeveledBackend
	log        *logging.Logger

	suites []aqc.CipherSuite

	psks     *pskstore.Store
	registry *registry.Registry
	daemon   *daemon.Client

	tlsConf  *tls.Config
	quicConf *quic.Config
	listener quicListener

	pendingMu sync.Mutex
	pending   map[aqc.PskIdentity]pendingAccept

	haltCh   chan struct{}
	haltOnce sync.Once
	wg       sync.WaitGroup
}

func (d *Driver) newLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(d.logBackend)
	return l
}

func (d *Driver) initLogging() error {
	var w io.Writer = os.Stdout
	if d.cfg.Logging.Disable {
		w = ioutil.Discard
	} else if d.cfg.Logging.File != "" {
		f, err := os.OpenFile(d.cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("driver: failed to create log file: %w", err)
		}
		w = f
	}

	backend := logging.NewLogBackend(w, "", 0)
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(logLevelFromString(d.cfg.Logging.Level), "")
	d.logBackend = leveled
	d.log = d.newLogger("driver")
	return nil
}

func logLevelFromString(l string) logging.Level {
	switch l {
	case "ERROR":
		return logging.ERROR
	case "WARNING":
		return logging.WARNING
	case "NOTICE":
		return logging.NOTICE
	case "INFO":
		return logging.INFO
	case "DEBUG":
		return logging.DEBUG
	default:
		return logging.NOTICE
	}
}

// New brings up a Driver: logging, the PSK store seeded with the
// configured bootstrap secret, the channel registry, a daemon bridge
// connection, and a listening QUIC endpoint.
func New(cfg *config.Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	suites, err := cfg.CipherSuites()
	if err != nil {
		return nil, err
	}
	bootstrapSecret, err := cfg.BootstrapSecret()
	if err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:     cfg,
		suites:  suites,
		pending: make(map[aqc.PskIdentity]pendingAccept),
		haltCh:  make(chan struct{}),
	}
	if err := d.initLogging(); err != nil {
		return nil, err
	}
	d.log.Noticef("aqc driver starting, listen addr %s", cfg.Server.QUICListenAddr)

	isOk := false
	defer func() {
		if !isOk {
			d.Shutdown()
		}
	}()

	d.psks = pskstore.New()
	if err := d.psks.Insert(aqc.Psk{
		Identity: aqc.BootstrapIdentity(),
		Secret:   aqc.NewPskSecret(bootstrapSecret),
	}); err != nil {
		return nil, err
	}
	d.registry = registry.New(d.psks)

	d.daemon, err = daemon.Dial(cfg.Server.DaemonSocketPath, d.newLogger("daemon"))
	if err != nil {
		d.log.Errorf("failed to dial daemon at %s: %v", cfg.Server.DaemonSocketPath, err)
		return nil, err
	}

	tlsConf, err := ephemeralTLSConfig()
	if err != nil {
		return nil, err
	}
	d.tlsConf = tlsConf
	d.quicConf = &quic.Config{MaxIdleTimeout: cfg.Server.IdleTimeout}

	listener, err := quic.ListenAddr(cfg.Server.QUICListenAddr, d.tlsConf, d.quicConf)
	if err != nil {
		d.log.Errorf("failed to listen on %s: %v", cfg.Server.QUICListenAddr, err)
		return nil, &aqc.QuicIo{Op: "listen", Err: err}
	}
	d.listener = listener

	d.wg.Add(1)
	go d.acceptLoop()

	isOk = true
	return d, nil
}

// Shutdown cleanly tears down a Driver. Safe to call more than once.
func (d *Driver) Shutdown() {
	d.haltOnce.Do(func() { d.halt() })
}

func (d *Driver) halt() {
	// WARNING: the ordering here is deliberate: the listener must stop
	// producing new accepts before the daemon connection it depends on
	// goes away, and the PSK store must outlive every component that
	// might still be looking an identity up in it.
	if d.log != nil {
		d.log.Noticef("aqc driver shutting down")
	}

	close(d.haltCh)

	if d.listener != nil {
		d.listener.Close()
	}
	d.wg.Wait()

	if d.daemon != nil {
		d.daemon.Close()
	}
	if d.psks != nil {
		d.psks.Close()
	}
}
