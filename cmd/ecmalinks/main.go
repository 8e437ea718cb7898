// Package main provides the CLI for ecmalinks.
package main

import (
	"fmt"
	"os"

	"github.com/jmylchreest/ecmalinks/internal/version"
	"github.com/jmylchreest/ecmalinks/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := runCommand(os.Args[1], os.Args[2:]); err != nil {
		fatal("%v", err)
	}
}

func runCommand(cmd string, args []string) error {
	switch cmd {
	case "help", "-h", "--help":
		printUsage()
		return nil
	case "version", "-v", "--version":
		return cmdVersion(args)
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	switch cmd {
	case "link":
		return cmdLink(cfg, args)
	case "index":
		return cmdIndex(cfg, args)
	case "functions":
		return cmdFunctions(cfg, args)
	case "groups":
		return cmdGroups(cfg, args)
	case "search":
		return cmdSearch(cfg, args)
	case "stats":
		return cmdStats(cfg, args)
	case "clear":
		return cmdClear(cfg, args)
	case "serve":
		return cmdServe(cfg, args)
	case "mcp":
		return cmdMCP(cfg, args)
	case "config":
		return cmdConfig(cfg)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func cmdVersion(args []string) error {
	if hasFlag(args, "--json") {
		fmt.Println(version.JSON())
		return nil
	}
	fmt.Println(version.String())
	return nil
}

func cmdConfig(cfg *config.Config) error {
	fmt.Printf("id_prefix      %s\n", cfg.IDPrefix)
	fmt.Printf("anchor_class   %s\n", cfg.AnchorClass)
	fmt.Printf("exclude_tags   %v\n", cfg.ExcludeTags)
	fmt.Printf("guard_title    %q\n", cfg.GuardTitle)
	fmt.Printf("dismiss_delay  %v\n", cfg.DismissDelay)
	fmt.Printf("db_path        %s\n", storeDir(cfg))
	fmt.Printf("addr           %s\n", cfg.Addr)
	fmt.Printf("watch_delay    %v\n", cfg.WatchDelay)
	fmt.Printf("workers        %d\n", cfg.Workers)
	fmt.Printf("fetch_timeout  %v\n", cfg.FetchTimeout)
	fmt.Printf("fetch_retries  %d\n", cfg.FetchRetries)
	return nil
}

func printUsage() {
	fmt.Printf(`ecmalinks %s - Link semantic function references in the ECMAScript specification

Usage:
  ecmalinks <command> [arguments]

Commands:
  link       Link documents and write them with the popup adapter embedded
  index      Store the definition sites of documents for search
  functions  List the semantic functions of a document
  groups     Show the overload groups of one function
  search     Search stored definition sites by function name
  stats      Show store statistics
  clear      Remove one document, or everything, from the store
  serve      Serve a linked document with a popup API
  mcp        Start MCP server over stdio
  config     Print the resolved configuration
  version    Show version information

Flags (all commands):
  --config=FILE          JSON config file (default: .ecmalinks.json if present)

Environment:
  ECMALINKS_CONFIG          Config file path
  ECMALINKS_ID_PREFIX       Generated grammar id prefix (default: ecmalinks)
  ECMALINKS_ANCHOR_CLASS    Class of inserted anchors (default: ecmalinks-ref)
  ECMALINKS_EXCLUDE_TAGS    Comma-separated elements whose text is not linked
  ECMALINKS_GUARD_TITLE     Only link pages whose .title has this text
  ECMALINKS_DISMISS_DELAY   Popup dismissal grace period (default: 0s)
  ECMALINKS_DB_PATH         Store directory (default: .ecmalinks)
  ECMALINKS_ADDR            serve listen address (default: 127.0.0.1:8262)
  ECMALINKS_WORKERS         Documents linked concurrently (default: 4)

Examples:
  ecmalinks link spec.html                      # writes spec.linked.html
  ecmalinks link --out-dir=out 'drafts/**/*.html'
  ecmalinks link https://tc39.es/ecma262/2017/ --out=es2017.html
  ecmalinks index spec.html
  ecmalinks functions spec.html
  ecmalinks groups spec.html BoundNames
  ecmalinks search "bound" --kind=static
  ecmalinks serve spec.html --watch
`, version.Short())
}
