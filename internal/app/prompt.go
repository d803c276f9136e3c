package app

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/petervdpas/goopforum/internal/config"
)

// PromptInteractive asks for the settings that differ between instances.
// Empty answers keep the shown default. An invalid result keeps cfg as given.
func PromptInteractive(r io.Reader, w io.Writer, dir, cfgPath string, cfg config.Config) config.Config {
	in := bufio.NewReader(r)
	orig := cfg

	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w, "goopforum instance setup")
	fmt.Fprintf(w, " Instance folder : %s\n", dir)
	fmt.Fprintf(w, " Config file     : %s\n", cfgPath)
	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w)

	cfg.Instance.Name = askString(in, w, "Instance name", cfg.Instance.Name)
	cfg.Profile.Username = askString(in, w, "Username", cfg.Profile.Username)
	cfg.Profile.Email = askString(in, w, "Email", cfg.Profile.Email)
	cfg.Viewer.HTTPAddr = askString(in, w, "Viewer HTTP addr (empty=off)", cfg.Viewer.HTTPAddr)

	cfg.Bus.Driver = askString(in, w, "Bus driver (redis, kafka, gossip, memory)", cfg.Bus.Driver)
	switch cfg.Bus.Driver {
	case config.DriverRedis:
		cfg.Bus.RedisURL = askString(in, w, "Redis URL", cfg.Bus.RedisURL)
	case config.DriverKafka:
		brokers := askString(in, w, "Kafka brokers (comma separated)", strings.Join(cfg.Bus.KafkaBrokers, ","))
		cfg.Bus.KafkaBrokers = splitList(brokers)
	case config.DriverGossip:
		cfg.Bus.GossipListenPort = askInt(in, w, "Listen port (0=random)", cfg.Bus.GossipListenPort)
		cfg.Bus.GossipMDNS = askBool(in, w, "LAN discovery (mDNS)", cfg.Bus.GossipMDNS)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "Invalid config: %v\nKeeping previous settings.\n", err)
		return orig
	}
	return cfg
}

func askString(in *bufio.Reader, w io.Writer, label, def string) string {
	fmt.Fprintf(w, "%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, w io.Writer, label string, def int) int {
	for {
		fmt.Fprintf(w, "%s [%d]: ", label, def)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter a number.")
	}
}

func askBool(in *bufio.Reader, w io.Writer, label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Fprintf(w, "%s [y/n] (default=%s): ", label, defStr)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter y or n.")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
