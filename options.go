package starrocks

import (
	"github.com/amber-create/starrocks/internal/cache"
	"github.com/amber-create/starrocks/scan"
)

// Options configures a Scanner.
type Options struct {
	// Logger defaults to a no-op logger.
	Logger *Logger

	// PageCacheBytes sizes the shared block cache for decompressed pages.
	// 0 disables caching.
	PageCacheBytes int64

	// FooterLengthHint is passed to every segment open.
	FooterLengthHint int

	// OpenConcurrency bounds how many segments open in parallel. Defaults
	// to 8.
	OpenConcurrency int

	// MaxScanKeyNum caps short-key range enumeration per scan.
	MaxScanKeyNum int

	// MaxPushdownConditionsPerColumn caps foldable IN-list sizes.
	MaxPushdownConditionsPerColumn int

	// EnableColumnExprPredicate pushes leftover single-column expressions
	// down to the storage reader instead of keeping them residual.
	EnableColumnExprPredicate bool

	// ShortKeyForSingleColumnFilter enumerates scan keys even when only the
	// first key column is constrained.
	ShortKeyForSingleColumnFilter bool

	// RuntimeFilters holds join runtime filters targeting this scanner's
	// scans. May be nil.
	RuntimeFilters *scan.RuntimeFilterCollection
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithPageCache enables the shared page cache with the given byte capacity.
func WithPageCache(capacity int64) Option {
	return func(o *Options) { o.PageCacheBytes = capacity }
}

// WithFooterLengthHint sets the footer read hint for segment opens.
func WithFooterLengthHint(n int) Option {
	return func(o *Options) { o.FooterLengthHint = n }
}

// WithOpenConcurrency bounds parallel segment opens.
func WithOpenConcurrency(n int) Option {
	return func(o *Options) { o.OpenConcurrency = n }
}

// WithMaxScanKeyNum caps scan-key enumeration.
func WithMaxScanKeyNum(n int) Option {
	return func(o *Options) { o.MaxScanKeyNum = n }
}

// WithMaxPushdownConditionsPerColumn caps foldable IN-list sizes.
func WithMaxPushdownConditionsPerColumn(n int) Option {
	return func(o *Options) { o.MaxPushdownConditionsPerColumn = n }
}

// WithColumnExprPredicate toggles generic column expression pushdown.
func WithColumnExprPredicate(enable bool) Option {
	return func(o *Options) { o.EnableColumnExprPredicate = enable }
}

// WithShortKeyForSingleColumnFilter toggles scan-key enumeration for
// single-column key filters.
func WithShortKeyForSingleColumnFilter(enable bool) Option {
	return func(o *Options) { o.ShortKeyForSingleColumnFilter = enable }
}

// WithRuntimeFilters attaches join runtime filters.
func WithRuntimeFilters(c *scan.RuntimeFilterCollection) Option {
	return func(o *Options) { o.RuntimeFilters = c }
}

func (o *Options) withDefaults() {
	if o.Logger == nil {
		o.Logger = NoopLogger()
	}
	if o.OpenConcurrency <= 0 {
		o.OpenConcurrency = 8
	}
}

func (o *Options) blockCache() cache.BlockCache {
	if o.PageCacheBytes <= 0 {
		return nil
	}
	return cache.NewShardedLRUBlockCache(o.PageCacheBytes)
}
