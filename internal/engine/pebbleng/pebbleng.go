package pebbleng

// pebbleng.go registers the "pebble" provider and implements open, list and
// destroy. Column family metadata lives inside the store itself under the
// reserved prefix, so opening follows the native engine's rules: every
// family the database already contains must be named, and unknown names are
// created only on request.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/aalhour/rockbridge/internal/engine"
	"github.com/aalhour/rockbridge/internal/logging"
)

// EngineName is the registry name of this provider.
const EngineName = "pebble"

// formatVersion guards the layout of prefixed keys and metadata records.
const formatVersion = 1

func init() {
	engine.Register(provider{})
}

type provider struct{}

func (provider) Name() string { return EngineName }

func (provider) Open(path string, cfg *engine.Config) (engine.DB, error) {
	if cfg == nil {
		cfg = &engine.Config{}
	}
	logger := logging.OrDefault(cfg.Logger)

	popts, cache := buildOptions(cfg, logger)
	pdb, err := pebble.Open(path, popts)
	if cache != nil {
		cache.Unref()
	}
	if err != nil {
		return nil, classify(err)
	}

	cfIDs, nextID, initialized, err := loadCFMeta(pdb)
	if err != nil {
		_ = pdb.Close()
		return nil, err
	}
	if !initialized {
		if err := initCFMeta(pdb); err != nil {
			_ = pdb.Close()
			return nil, err
		}
		cfIDs = map[string]uint32{defaultCFName: defaultCFID}
		nextID = defaultCFID + 1
	}

	requested := make(map[string]bool, len(cfg.ColumnFamilies))
	for _, cfc := range cfg.ColumnFamilies {
		requested[cfc.Name] = true
	}
	var unopened []string
	for name := range cfIDs {
		if name != defaultCFName && !requested[name] {
			unopened = append(unopened, name)
		}
	}
	if len(unopened) > 0 {
		_ = pdb.Close()
		sort.Strings(unopened)
		return nil, engine.Statusf(engine.CodeInvalidArgument,
			"You have to open all column families. Column families not opened: %s",
			strings.Join(unopened, ", "))
	}

	s := newStore(pdb, cfg, logger)
	s.addCF(defaultCFID, defaultCFName)
	for _, cfc := range cfg.ColumnFamilies {
		id, ok := cfIDs[cfc.Name]
		if !ok {
			if !cfg.CreateMissingColumnFamilies {
				_ = pdb.Close()
				return nil, engine.Statusf(engine.CodeInvalidArgument, "Column family not found: %s", cfc.Name)
			}
			if nextID >= maxCFID {
				_ = pdb.Close()
				return nil, engine.Statusf(engine.CodeInvalidArgument, "too many column families")
			}
			id = nextID
			nextID++
			if err := persistCFMeta(pdb, cfc.Name, id, nextID); err != nil {
				_ = pdb.Close()
				return nil, err
			}
		}
		s.addCF(id, cfc.Name)
	}
	s.nextCFID = nextID
	return s, nil
}

func (provider) ListColumnFamilies(path string, cfg *engine.Config) ([]string, error) {
	if cfg == nil {
		cfg = &engine.Config{}
	}
	popts := &pebble.Options{
		ReadOnly:         true,
		ErrorIfNotExists: true,
		Logger:           pebbleLogger{logging.OrDefault(cfg.Logger)},
	}
	pdb, err := pebble.Open(path, popts)
	if err != nil {
		return nil, classify(err)
	}
	defer pdb.Close()

	cfIDs, _, initialized, err := loadCFMeta(pdb)
	if err != nil {
		return nil, err
	}
	if !initialized {
		return []string{defaultCFName}, nil
	}

	names := make([]string, 0, len(cfIDs))
	for name := range cfIDs {
		names = append(names, name)
	}
	// Creation order, like the native engine reports them.
	sort.Slice(names, func(i, j int) bool { return cfIDs[names[i]] < cfIDs[names[j]] })
	return names, nil
}

func (provider) Destroy(path string, cfg *engine.Config) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return classify(err)
	}
	// Refuse directories that do not hold a store; CURRENT marks one.
	if _, err := os.Stat(filepath.Join(path, "CURRENT")); err != nil {
		if os.IsNotExist(err) {
			return engine.Statusf(engine.CodeInvalidArgument, "%s is not a database directory", path)
		}
		return classify(err)
	}
	if err := os.RemoveAll(path); err != nil {
		return classify(err)
	}
	return nil
}

func buildOptions(cfg *engine.Config, logger logging.Logger) (*pebble.Options, *pebble.Cache) {
	popts := &pebble.Options{
		ErrorIfExists:    cfg.ErrorIfExists,
		ErrorIfNotExists: !cfg.CreateIfMissing,
		Logger:           pebbleLogger{logger},
		Levels: []pebble.LevelOptions{
			{Compression: pebbleCompression(cfg.Compression)},
		},
	}
	if cfg.WriteBufferSize > 0 {
		popts.MemTableSize = uint64(cfg.WriteBufferSize)
	}
	if cfg.MaxOpenFiles > 0 {
		popts.MaxOpenFiles = cfg.MaxOpenFiles
	}
	if cfg.MergeOperator != nil {
		popts.Merger = newMerger(cfg.MergeOperator)
	}
	var cache *pebble.Cache
	if cfg.BlockCacheSize > 0 {
		cache = pebble.NewCache(cfg.BlockCacheSize)
		popts.Cache = cache
	}
	return popts, cache
}

func pebbleCompression(c engine.Compression) pebble.Compression {
	switch c {
	case engine.NoCompression:
		return pebble.NoCompression
	case engine.SnappyCompression:
		return pebble.SnappyCompression
	case engine.ZSTDCompression:
		return pebble.ZstdCompression
	default:
		// Codecs pebble does not ship degrade to its default.
		return pebble.DefaultCompression
	}
}

// loadCFMeta reads the column family table. initialized is false when the
// store carries no metadata yet (fresh directory).
func loadCFMeta(pdb *pebble.DB) (map[string]uint32, uint32, bool, error) {
	format, closer, err := pdb.Get(metaFormatKey())
	if err == pebble.ErrNotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, classify(err)
	}
	version := -1
	if len(format) == 1 {
		version = int(format[0])
	}
	_ = closer.Close()
	if version != formatVersion {
		return nil, 0, false, engine.Statusf(engine.CodeCorruption, "unsupported store format %d", version)
	}

	next, closer, err := pdb.Get(metaNextIDKey())
	if err != nil {
		return nil, 0, false, classify(err)
	}
	nextID, ok := decodeCFID(next)
	_ = closer.Close()
	if !ok {
		return nil, 0, false, engine.Statusf(engine.CodeCorruption, "malformed column family counter")
	}

	lower, upper := metaCFRange()
	iter, err := pdb.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, 0, false, classify(err)
	}
	cfIDs := make(map[string]uint32)
	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(lower):])
		v, verr := iter.ValueAndErr()
		if verr != nil {
			_ = iter.Close()
			return nil, 0, false, classify(verr)
		}
		id, ok := decodeCFID(v)
		if !ok {
			_ = iter.Close()
			return nil, 0, false, engine.Statusf(engine.CodeCorruption, "malformed column family record for %q", name)
		}
		cfIDs[name] = id
	}
	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return nil, 0, false, classify(err)
	}
	if err := iter.Close(); err != nil {
		return nil, 0, false, classify(err)
	}
	return cfIDs, nextID, true, nil
}

func initCFMeta(pdb *pebble.DB) error {
	b := pdb.NewBatch()
	defer b.Close()
	_ = b.Set(metaFormatKey(), []byte{formatVersion}, nil)
	_ = b.Set(metaNextIDKey(), encodeCFID(defaultCFID+1), nil)
	_ = b.Set(metaCFKey(defaultCFName), encodeCFID(defaultCFID), nil)
	if err := pdb.Apply(b, pebble.Sync); err != nil {
		return classify(err)
	}
	return nil
}

// persistCFMeta records a newly allocated column family and the advanced
// counter in one atomic write.
func persistCFMeta(pdb *pebble.DB, name string, id, nextID uint32) error {
	b := pdb.NewBatch()
	defer b.Close()
	_ = b.Set(metaCFKey(name), encodeCFID(id), nil)
	_ = b.Set(metaNextIDKey(), encodeCFID(nextID), nil)
	if err := pdb.Apply(b, pebble.Sync); err != nil {
		return classify(err)
	}
	return nil
}

// pebbleLogger forwards pebble's internal logging. Routine output is demoted
// to debug so a quiet default logger stays quiet.
type pebbleLogger struct {
	l logging.Logger
}

func (pl pebbleLogger) Infof(format string, args ...any) {
	pl.l.Debugf("[pebble] "+format, args...)
}

func (pl pebbleLogger) Errorf(format string, args ...any) {
	pl.l.Errorf("[pebble] "+format, args...)
}

func (pl pebbleLogger) Fatalf(format string, args ...any) {
	pl.l.Errorf("[pebble] "+format, args...)
	panic(fmt.Sprintf("pebbleng: "+format, args...))
}
