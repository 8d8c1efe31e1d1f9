// Command replay rebuilds multi-timeframe state from candles stored in
// SQLite and prints a per-timeframe summary. With -checkpoint it also
// saves fresh indicator checkpoints, which is useful after a backfill.
package main

import (
	"flag"
	"fmt"
	"log"
	"sort"

	"chartcore/internal/marketdata/multitf"
	"chartcore/internal/model"
	sqlitestore "chartcore/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags)

	var (
		symbol     = flag.String("symbol", "BTCUSDT", "symbol to replay")
		base       = flag.String("base", "1m", "base timeframe of the stored candles")
		tfs        = flag.String("tfs", "5m,15m,1h,4h,1d", "derived timeframes")
		dbPath     = flag.String("db", "data/candles.db", "SQLite database path")
		capacity   = flag.Int("capacity", 1000, "per-series candle capacity")
		checkpoint = flag.Bool("checkpoint", false, "save indicator checkpoints after replay")
	)
	flag.Parse()

	baseTF, err := model.ParseTimeframe(*base)
	if err != nil {
		log.Fatalf("[replay] invalid base: %v", err)
	}
	derived, err := model.ParseTimeframes(*tfs)
	if err != nil {
		log.Printf("[replay] %v (skipped)", err)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[replay] sqlite open failed: %v", err)
	}
	defer reader.Close()

	candles, err := reader.ReadCandles(*symbol, baseTF, 0, 0)
	if err != nil {
		log.Fatalf("[replay] read candles failed: %v", err)
	}
	if len(candles) == 0 {
		log.Fatalf("[replay] no %s candles for %s in %s", *base, *symbol, *dbPath)
	}
	log.Printf("[replay] replaying %d candles for %s", len(candles), *symbol)

	store := multitf.New(multitf.Config{
		Symbol:   *symbol,
		Base:     baseTF,
		Derived:  derived,
		Capacity: *capacity,
	})
	store.SetHistoricalData(candles)

	for _, tf := range store.Timeframes() {
		first, last, _ := store.TimeBounds(tf)
		low, high, _ := store.PriceRange(tf)
		fmt.Printf("%-4s  candles=%-5d  span=[%d..%d]  price=[%.2f..%.2f]\n",
			tf, store.Count(tf), first, last, low, high)

		seqs, _ := store.Sequences(tf)
		names := make([]string, 0, len(seqs))
		for name := range seqs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			seq := seqs[name]
			if len(seq) == 0 {
				fmt.Printf("      %-8s not ready\n", name)
				continue
			}
			fmt.Printf("      %-8s n=%-5d last=%.4f\n", name, len(seq), seq[len(seq)-1])
		}
	}

	if *checkpoint {
		writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[replay] sqlite writer failed: %v", err)
		}
		defer writer.Close()

		saved := 0
		for label, snap := range store.SnapshotIndicators() {
			tf, err := model.ParseTimeframe(label)
			if err != nil {
				continue
			}
			if err := writer.SaveSnapshot(*symbol, tf, snap); err != nil {
				log.Printf("[replay] checkpoint %s failed: %v", label, err)
				continue
			}
			saved++
		}
		log.Printf("[replay] saved %d indicator checkpoints", saved)
	}
}
