// Command nhp-agent knocks on the configured servers to open a resource.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/ogier/pflag"

	"github.com/malcolmseyd/nhp-go/client/agent"
	"github.com/malcolmseyd/nhp-go/config"
	"github.com/malcolmseyd/nhp-go/crypto"
	"github.com/malcolmseyd/nhp-go/util"
)

func main() {
	pflag.Usage = printUsage

	cfgFile := pflag.StringP("config", "f", "agent.toml", "agent configuration file")
	resource := pflag.StringP("resource", "r", "", "resource to knock on")
	genKey := pflag.BoolP("genkey", "g", false, "print a new key pair and exit")
	scheme := pflag.StringP("scheme", "s", "curve25519", "cipher scheme of the generated key pair")
	exit := pflag.BoolP("exit", "x", false, "tell every server the agent is leaving")
	pflag.Parse()

	if *genKey {
		s, err := crypto.ParseScheme(*scheme)
		if err != nil {
			util.Fatalln(err)
		}
		suite, _ := crypto.NewSuite(s)
		if err := util.PrintKeyPair(suite); err != nil {
			util.Fatalln("Error generating key pair:", err)
		}
		return
	}
	if *resource == "" && !*exit {
		util.Eprintln("Nothing to do")
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadAgentFile(*cfgFile)
	if err != nil {
		util.Fatalln("Error loading config:", err)
	}
	backend, err := cfg.Logging.NewBackend()
	if err != nil {
		util.Fatalln("Error opening log:", err)
	}
	a, err := agent.New(cfg, backend)
	if err != nil {
		util.Fatalln(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *exit {
		if err := a.Exit(ctx); err != nil {
			util.Fatalln("Error sending exit:", err)
		}
		return
	}

	res, err := a.Knock(ctx, *resource)
	if err != nil {
		util.Fatalln("Knock failed:", err)
	}
	if err := res.Ack.Err(); err != nil {
		util.Fatalln(res.Server.Name+":", err)
	}
	fmt.Printf("%s opened %s for %ds, seen as %s\n", res.Server.Name, *resource, res.Ack.OpenTime, res.Ack.AgentAddr)
	names := make([]string, 0, len(res.Ack.ResourceHosts))
	for name := range res.Ack.ResourceHosts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("    %s %s\n", name, res.Ack.ResourceHosts[name])
	}
}

func printUsage() {
	util.Eprintln("Usage: " + os.Args[0] + " [OPTION]...")
	util.Eprintln("Flags:")
	pflag.PrintDefaults()
	util.Eprintln("Example:")
	util.Eprintln("    " + os.Args[0] + " -f agent.toml -r ssh")
	util.Eprintln("    " + os.Args[0] + " -g -s gmsm")
}
