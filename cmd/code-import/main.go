// Command code-import bulk-loads discount codes from gzip-compressed text
// files, one code per line.
//
// With -min-files N > 1 only codes listed in at least N of the input files are
// imported. Each file is first summarized into a bloom filter; a second pass
// keeps the codes that another file's filter may contain and confirms the
// count exactly, so filter false positives never import a code.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bytekart/internal/domain/discount"
	"github.com/xenking/bytekart/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	minCodeLen    = 4
	maxCodeLen    = 32
	maxFiles      = bits.UintSize
)

// options describe the codes to create.
type options struct {
	kind      discount.Kind
	value     decimal.Decimal
	maxUses   int
	minFiles  int
	batchSize int
}

func (o options) template() discount.Code {
	return discount.Code{Kind: o.kind, Value: o.value, MaxRedemptions: o.maxUses, Active: true}
}

// importer is satisfied by *postgres.DiscountRepository.
type importer interface {
	Import(ctx context.Context, codes []discount.Code) (int64, error)
}

func main() {
	var (
		databaseURL string
		kind        string
		value       string
		opts        options
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&kind, "kind", string(discount.KindPercentage), "discount kind: percentage or fixed")
	flag.StringVar(&value, "value", "10", "discount value")
	flag.IntVar(&opts.maxUses, "max-redeems", 1, "redemptions allowed per code")
	flag.IntVar(&opts.minFiles, "min-files", 1, "import only codes present in at least this many files")
	flag.IntVar(&opts.batchSize, "batch", 5000, "codes per database round trip")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		slog.Error("invalid --value", slog.String("error", err.Error()))
		os.Exit(1)
	}
	opts.kind, opts.value = discount.Kind(kind), v
	tmpl := opts.template()
	tmpl.Code = "TEMPLATE"
	if err := tmpl.Validate(); err != nil {
		slog.Error("invalid code definition", slog.String("error", err.Error()))
		os.Exit(1)
	}

	files := flag.Args()
	if len(files) == 0 || len(files) > maxFiles {
		slog.Error("usage: code-import [flags] FILE.gz...", slog.Int("max_files", maxFiles))
		os.Exit(1)
	}
	if opts.minFiles > len(files) {
		slog.Error("--min-files exceeds the number of files", slog.Int("files", len(files)))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, opts); err != nil {
		slog.Error("code import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("code import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, opts options) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	repo := postgres.NewDiscountRepository(pool)

	var inserted int64
	if opts.minFiles <= 1 {
		inserted, err = importAll(ctx, repo, files, opts)
	} else {
		var codes []string
		codes, err = sharedCodes(ctx, files, opts.minFiles)
		if err != nil {
			return errors.Wrap(err, "find shared codes")
		}
		slog.Info("shared codes found", slog.Int("count", len(codes)))
		inserted, err = importList(ctx, repo, codes, opts)
	}
	if err != nil {
		return err
	}
	slog.Info("codes imported", slog.Int64("inserted", inserted))
	return nil
}

// importAll streams every file into the database. Reading and writing overlap:
// one goroutine fills batches while the other imports them.
func importAll(ctx context.Context, repo importer, files []string, opts options) (int64, error) {
	batches := make(chan []discount.Code, 2)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		batch := make([]discount.Code, 0, opts.batchSize)
		for _, path := range files {
			if err := streamCodes(ctx, path, func(code string) error {
				batch = append(batch, newCode(opts, code))
				if len(batch) < opts.batchSize {
					return nil
				}
				select {
				case batches <- batch:
				case <-ctx.Done():
					return ctx.Err()
				}
				batch = make([]discount.Code, 0, opts.batchSize)
				return nil
			}); err != nil {
				return err
			}
		}
		if len(batch) > 0 {
			select {
			case batches <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var inserted int64
	g.Go(func() error {
		for batch := range batches {
			n, err := repo.Import(ctx, batch)
			if err != nil {
				return errors.Wrap(err, "import batch")
			}
			inserted += n
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func importList(ctx context.Context, repo importer, codes []string, opts options) (int64, error) {
	var inserted int64
	for start := 0; start < len(codes); start += opts.batchSize {
		end := min(start+opts.batchSize, len(codes))
		batch := make([]discount.Code, 0, end-start)
		for _, code := range codes[start:end] {
			batch = append(batch, newCode(opts, code))
		}
		n, err := repo.Import(ctx, batch)
		if err != nil {
			return inserted, errors.Wrap(err, "import batch")
		}
		inserted += n
		slog.Info("import progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}
	return inserted, nil
}

func newCode(opts options, code string) discount.Code {
	c := opts.template()
	c.ID = uuid.New()
	c.Code = code
	return c
}

// sharedCodes returns the codes present in at least minFiles files.
func sharedCodes(ctx context.Context, files []string, minFiles int) ([]string, error) {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			if err := streamCodes(gctx, path, func(code string) error {
				filter.AddString(code)
				return nil
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Pass 2: each file marks its own bit on codes another filter may hold.
	slog.Info("pass 2: finding shared codes")
	found := make([]map[string]uint, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			marks := make(map[string]uint)
			own := uint(1) << uint(i)
			if err := streamCodes(gctx, path, func(code string) error {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						marks[code] |= own
						break
					}
				}
				return nil
			}); err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			found[i] = marks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, marks := range found {
		for code, mask := range marks {
			merged[code] |= mask
		}
	}
	var shared []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minFiles {
			shared = append(shared, code)
		}
	}
	return shared, nil
}

// streamCodes calls fn with every well-formed code of a gzip file, normalized.
// Blank lines and codes of unusual length are skipped.
func streamCodes(ctx context.Context, path string, fn func(code string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var lines, skipped uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lines++
		if lines%progressEvery == 0 {
			slog.Info("read progress", slog.String("file", path), slog.Uint64("lines", lines))
		}
		code := discount.Normalize(scanner.Text())
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			if code != "" {
				skipped++
			}
			continue
		}
		if err := fn(code); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	if skipped > 0 {
		slog.Warn("skipped malformed codes", slog.String("file", path), slog.Uint64("count", skipped))
	}
	return nil
}
