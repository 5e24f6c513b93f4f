package server

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/engine"
	"github.com/ValentinKolb/txKV/lib/db/engines/raftdb"
	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/ValentinKolb/txKV/rpc/serializer"
	"github.com/ValentinKolb/txKV/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

const (
	sweepInterval = 30 * time.Second
	maxIdle       = 2 * time.Minute
)

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewGOBSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    NewDatabaseServerAdapter(time.Duration(config.TimeoutSecond) * time.Second),
		shards:     xsync.NewMapOf[uint64, *serverShard](),
		stop:       make(chan struct{}),
	}
}

// RPCServer serves the databases of its shards over a transport
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	shards     *xsync.MapOf[uint64, *serverShard]
	nodeHost   *dragonboat.NodeHost

	stop      chan struct{}
	closeOnce sync.Once
}

// AddShard serves database under shardID. The server takes ownership of the database.
func (s *RPCServer) AddShard(shardID uint64, database db.Database) error {
	if _, loaded := s.shards.LoadOrStore(shardID, newServerShard(shardID, database, s.adapter)); loaded {
		return fmt.Errorf("shard %d already exists", shardID)
	}
	return nil
}

// Handle decodes a request for the shard, dispatches it and returns the encoded response
func (s *RPCServer) Handle(shardID uint64, req []byte) []byte {
	start := time.Now()
	resp := s.handle(shardID, req)

	metrics.GetOrCreateHistogram(fmt.Sprintf(`txkv_rpc_duration_seconds{type=%q}`, resp.MsgType)).UpdateDuration(start)
	if resp.Err != "" {
		metrics.GetOrCreateCounter(fmt.Sprintf(`txkv_rpc_errors_total{code="%d"}`, resp.ErrCode)).Inc()
	}

	val, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(common.ErrCodeInternal,
			fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

func (s *RPCServer) handle(shardID uint64, req []byte) *common.Message {
	shard, ok := s.shards.Load(shardID)
	if !ok {
		return common.NewErrorResponse(common.ErrCodeShardNotFound, fmt.Sprintf("shard %d not found", shardID))
	}

	var msg common.Message
	if err := s.serializer.Deserialize(req, &msg); err != nil {
		return common.NewErrorResponse(common.ErrCodeBadRequest, fmt.Sprintf("failed to deserialize request: %s", err))
	}
	return shard.Adapter.Handle(&msg, shard)
}

// init creates the databases of all configured shards
func (s *RPCServer) init() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}
	Logger.Infof(s.config.String())

	engineOpts := func(impl db.Implementation) *engine.Options {
		return &engine.Options{
			Implementation: impl,
			GCInterval:     time.Duration(s.config.GCIntervalMs) * time.Millisecond,
			LeaseTimeout:   time.Duration(s.config.QueueLeaseTimeoutMs) * time.Millisecond,
		}
	}

	if s.config.HasRaftShard() {
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nodeHost
	}

	for _, shardConfig := range s.config.Shards {
		var (
			database db.Database
			err      error
		)

		switch shardConfig.Type {
		case common.ShardTypeMemory:
			database = engine.NewInMemory(engineOpts(db.ImplBTree))
		case common.ShardTypePebble:
			database, err = engine.OpenPebble(shardConfig.Path, engineOpts(db.ImplPebble))
		case common.ShardTypeRaft:
			database, err = raftdb.Start(s.nodeHost, s.config.ClusterMembers, false,
				s.config.ToDragonboatConfig(shardConfig.ShardID), raftdb.Options{
					Timeout:    time.Duration(s.config.TimeoutSecond) * time.Second,
					GCInterval: time.Duration(s.config.GCIntervalMs) * time.Millisecond,
					NewEngine:  s.raftEngineFactory(shardConfig, engineOpts),
				})
		default:
			err = fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}
		if err != nil {
			return fmt.Errorf("failed to create shard %d: %w", shardConfig.ShardID, err)
		}

		if err := s.AddShard(shardConfig.ShardID, database); err != nil {
			_ = database.Close()
			return err
		}
		Logger.Infof("created %s shard %d", shardConfig.Type, shardConfig.ShardID)
	}

	s.transport.RegisterHandler(s.Handle)
	go s.sweeper()

	Logger.Infof("txKV setup completed successfully")
	return nil
}

// raftEngineFactory keeps the replica state of raft shards in pebble if the shard has a path
func (s *RPCServer) raftEngineFactory(shard common.ServerShard, engineOpts func(db.Implementation) *engine.Options) raftdb.EngineFactory {
	if shard.Path == "" {
		return nil
	}
	return func(shardID, replicaID uint64) (*engine.Engine, error) {
		opts := engineOpts(db.ImplRaft)
		// garbage collection is proposed through raft
		opts.GCInterval = -1
		return engine.OpenPebble(filepath.Join(shard.Path, fmt.Sprintf("%d-%d", shardID, replicaID)), opts)
	}
}

// sweeper periodically drops watches and queue messages abandoned by clients
func (s *RPCServer) sweeper() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.shards.Range(func(id uint64, shard *serverShard) bool {
				if watches, handles := shard.sweep(maxIdle); watches+handles > 0 {
					Logger.Debugf("shard %d: dropped %d idle watches and %d unfinished messages", id, watches, handles)
				}
				return true
			})
		}
	}
}

// Serve starts the RPC server
// This function will also initialize the shards and start the transport layer.
// It blocks until Close is called.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		s.closeShards()
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport and closes all shards
func (s *RPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.transport.Close()
		s.closeShards()
	})
	return err
}

func (s *RPCServer) closeShards() {
	s.shards.Range(func(id uint64, shard *serverShard) bool {
		if err := shard.close(); err != nil {
			Logger.Warningf("failed to close shard %d: %v", id, err)
		}
		s.shards.Delete(id)
		return true
	})
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
}
