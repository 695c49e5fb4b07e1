package overlay

import (
	"github.com/ShaikAli65/PeerConnect-sub000/internal/chunk"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/palm"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/rumor"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	// id is the host's peer id. Defaults to the address the node binds to.
	id peer.ID
	// dirname is where received transfers are written, one directory per
	// session. Transfers are held in memory when it is empty.
	dirname string
	// ledgerDir, when set, persists dropped rumor ids in a pebble store
	// there.
	ledgerDir string
	// fs backs every file the node reads or writes.
	fs     vfs.FS
	logger *zap.Logger
	// directory resolves peers. Defaults to an in-memory directory seeded
	// with peers.
	directory peer.Directory
	peers     []peer.Record
	// transport overrides the transport settings of every sub-config.
	transport  Transport
	rumor      rumor.Config
	relay      palm.Config
	session    palm.Session
	registerer prometheus.Registerer
	// sink opens the sink an incoming transfer is written to.
	sink func(s palm.Session) chunk.Sink
}

func newOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	mergeDefaultOptions(o)
	return o
}

func mergeDefaultOptions(o *options) {
	def := defaultOptions()

	// |||| FILESYSTEM ||||

	if o.fs == nil {
		o.fs = def.fs
	}

	// |||| LOGGING ||||

	if o.logger == nil {
		o.logger = def.logger
	}
	o.rumor.Logger = o.logger
	o.relay.Logger = o.logger

	// |||| DIRECTORY ||||

	if o.directory == nil {
		o.directory = peer.NewStaticDirectory(o.peers...)
	}
	o.rumor.Directory = o.directory
	o.relay.Directory = o.directory

	// |||| TRANSPORT ||||

	if o.transport == nil {
		o.transport = NetworkTransport(o.logger)
	}

	// |||| SESSION ||||

	o.session = o.session.Merge(def.session)

	// |||| SINK ||||

	if o.sink == nil {
		o.sink = o.defaultSink
	}
}

func (o *options) defaultSink(s palm.Session) chunk.Sink {
	if o.dirname == "" {
		return &chunk.Buffer{}
	}
	return chunk.NewDirSink(o.fs, o.fs.PathJoin(o.dirname, s.ID))
}

func defaultOptions() *options {
	return &options{
		fs:      vfs.Default,
		logger:  zap.NewNop(),
		session: palm.DefaultSession(),
	}
}

// WithID sets the host's peer id.
func WithID(id peer.ID) Option { return func(o *options) { o.id = id } }

// WithDirname writes received transfers under dirname.
func WithDirname(dirname string) Option { return func(o *options) { o.dirname = dirname } }

// MemBacked keeps every file the node touches in memory.
func MemBacked() Option { return func(o *options) { o.fs = vfs.NewMem() } }

// WithFS sets the filesystem transfers and the rumor ledger use.
func WithFS(fs vfs.FS) Option { return func(o *options) { o.fs = fs } }

func WithLogger(logger *zap.Logger) Option { return func(o *options) { o.logger = logger } }

// WithDirectory sets the directory peers are resolved through. Peers passed
// to WithPeers are ignored when it is set.
func WithDirectory(dir peer.Directory) Option { return func(o *options) { o.directory = dir } }

// WithPeers seeds the default directory.
func WithPeers(peers ...peer.Record) Option {
	return func(o *options) { o.peers = append(o.peers, peers...) }
}

func WithTransport(t Transport) Option { return func(o *options) { o.transport = t } }

// WithRumorConfig sets gossip parameters. Transport, directory and logger are
// always taken from the node.
func WithRumorConfig(cfg rumor.Config) Option { return func(o *options) { o.rumor = cfg } }

// WithRelayConfig sets relay parameters. Transport, directory, logger and
// session callbacks are always taken from the node.
func WithRelayConfig(cfg palm.Config) Option { return func(o *options) { o.relay = cfg } }

// WithSessionDefaults sets the parameters of sessions this node originates.
func WithSessionDefaults(s palm.Session) Option { return func(o *options) { o.session = s } }

// WithLedgerDir persists dropped rumor ids in a pebble store under dir.
func WithLedgerDir(dir string) Option { return func(o *options) { o.ledgerDir = dir } }

// WithRegisterer registers transfer progress metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSink overrides where incoming transfers are written.
func WithSink(open func(s palm.Session) chunk.Sink) Option {
	return func(o *options) { o.sink = open }
}
