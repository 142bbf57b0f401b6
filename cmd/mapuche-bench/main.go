// mapuche-bench exercises a store with concurrent sorted-set writers and
// prints the final cardinality and ordering, which makes it a quick smoke
// test for the sharded-counter and dual-index protocols.
package main

import (
	"context"
	"flag"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	mapuche "github.com/xiaoyuz/mapuche-embedded"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

func main() {
	path := flag.String("path", "./mapuche_store", "data directory")
	asyncDeletion := flag.Bool("async-deletion", false, "enable the background GC pool")
	flag.Parse()

	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	log := zap.Must(logConfig.Build())
	defer log.Sync()
	log = log.Named("bench")

	db, err := mapuche.NewOpenOptions().
		WithAsyncDeletion(*asyncDeletion).
		WithLogger(log).
		Open(*path)
	if err != nil {
		log.Fatal("open failed", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for _, span := range [][2]int{{0, 100}, {100, 200}, {200, 300}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := db.Conn()
			for i := span[0]; i < span[1]; i++ {
				m := mapuche.ZMember{Member: strconv.Itoa(i), Score: float64(i)}
				if fr := conn.ZAdd(ctx, "testz", mapuche.ZAddOptions{}, m); fr.Kind != resp.KindInteger {
					log.Debug("zadd", zap.String("reply", fr.String()))
				}
			}
		}()
	}
	for _, span := range [][2]int{{0, 100}, {100, 200}, {200, 300}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := db.Conn()
			for i := span[0]; i < span[1]; i++ {
				conn.ZRem(ctx, "testz", strconv.Itoa(i))
			}
		}()
	}
	wg.Wait()

	conn := db.Conn()
	log.Info("zcard", zap.String("reply", conn.ZCard(ctx, "testz").String()))
	log.Info("zrange", zap.String("reply", conn.ZRange(ctx, "testz", 0, -1, false).String()))
}
