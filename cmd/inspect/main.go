// inspect dumps raw key families from a statehouse data directory. Run it
// against a stopped daemon; pebble allows a single opener.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"statehouse/pkg/logger"
	"statehouse/pkg/store/pebbledb"
)

func main() {
	var (
		dbPath = flag.String("db", "./statehouse-data", "data directory")
		family = flag.String("family", "", "key family to dump: s (state), v (versions), l (log), m (meta); empty dumps all")
		pretty = flag.Bool("pretty", false, "pretty-print JSON values")
	)
	flag.Parse()

	logger.Init("error")
	defer logger.Sync()

	db, err := pebbledb.Open(filepath.Join(*dbPath, "store"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	prefix := ""
	if *family != "" {
		prefix = *family + ":"
	}
	iter, err := db.NewPrefixIter([]byte(prefix))
	if err != nil {
		fmt.Fprintf(os.Stderr, "iterate: %v\n", err)
		os.Exit(1)
	}
	defer iter.Close()

	n := 0
	for iter.Next() {
		val := iter.Value()
		if *pretty && json.Valid(val) {
			var buf map[string]interface{}
			if json.Unmarshal(val, &buf) == nil {
				if b, err := json.MarshalIndent(buf, "", "  "); err == nil {
					val = b
				}
			}
		}
		fmt.Printf("%s\t%s\n", iter.Key(), val)
		n++
	}
	if err := iter.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "iterate: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", n)
}
