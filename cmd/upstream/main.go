package main

import (
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kybaq/har-tool/internal/upstream"
)

type upstreamYAML struct {
	Upstream *struct {
		Listen []string `yaml:"listen"`
	} `yaml:"upstream"`
}

// listenAddrs resolves the demo upstream addresses: CONFIG_FILE or
// configs/config.yaml first, then UPSTREAM_LISTEN, then :8000.
func listenAddrs() []string {
	cfgFile := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if cfgFile == "" {
		for _, c := range []string{"configs/config.yaml", "configs/config.yml"} {
			if _, err := os.Stat(c); err == nil {
				cfgFile = c
				break
			}
		}
	}
	if cfgFile != "" {
		if b, err := os.ReadFile(cfgFile); err == nil {
			var y upstreamYAML
			if err := yaml.Unmarshal(b, &y); err == nil && y.Upstream != nil {
				if addrs := cleanAddrs(y.Upstream.Listen); len(addrs) > 0 {
					return addrs
				}
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("UPSTREAM_LISTEN")); v != "" {
		if addrs := cleanAddrs(strings.Split(v, ",")); len(addrs) > 0 {
			return addrs
		}
	}
	return []string{":8000"}
}

func cleanAddrs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func main() {
	addrs := listenAddrs()

	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(a string) {
			defer wg.Done()
			log.Printf("starting demo upstream on %s", a)
			if err := upstream.Start(a); err != nil {
				log.Printf("demo upstream %s exited: %v", a, err)
			}
		}(addr)
	}
	wg.Wait()
}
