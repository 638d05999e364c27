package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/tinfoilsh/e2e-delegation/dataowner"
)

var (
	listenAddr = pflag.StringP("listen", "l", ":8089", "listen address")
	seedFile   = pflag.StringP("seed", "s", "", "JSON file with the data owners to start with")
	verbose    = pflag.BoolP("verbose", "v", false, "verbose logging")
)

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loadSeed(path string) ([]*dataowner.DataOwner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var owners []*dataowner.DataOwner
	if err := json.Unmarshal(data, &owners); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(owners))
	for i, o := range owners {
		switch {
		case o == nil:
			return nil, fmt.Errorf("seed entry %d is null", i)
		case o.ID == "":
			return nil, fmt.Errorf("seed entry %d has no id", i)
		case seen[o.ID]:
			return nil, fmt.Errorf("seed entry %d duplicates data owner %s", i, o.ID)
		}
		seen[o.ID] = true
	}
	return owners, nil
}

func main() {
	pflag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
		log.Debug("Verbose logging enabled")
	}

	var owners []*dataowner.DataOwner
	if *seedFile != "" {
		var err error
		owners, err = loadSeed(*seedFile)
		if err != nil {
			log.Fatalf("Failed to load seed file: %v", err)
		}
		log.WithField("owners", len(owners)).Info("Directory seeded")
	}

	dir := dataowner.NewMemoryDirectory(owners...)

	log.Printf("Listening on %s", *listenAddr)
	log.Fatal(http.ListenAndServe(*listenAddr, corsMiddleware(dataowner.NewHandler(dir))))
}
