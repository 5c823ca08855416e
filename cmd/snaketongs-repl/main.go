// Command snaketongs-repl spawns a scripting-interpreter subprocess over a
// Bridge and evaluates simple global-lookup/call expressions against it,
// one per line of standard input.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rqu/snaketongs"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func setFlagsForLogging() (logFile, logLevel *string) {
	basename := filepath.Base(os.Args[0]) + ".log"
	logFile = flag.String("logfile", filepath.Join(os.TempDir(), basename), "logging file location")
	logLevel = flag.String("loglevel", "warning", "logging level: debug, info, warning, error, fatal, panic")
	return
}

func setupLogging(logFile, logLevel *string) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	return logrus.NewEntry(logger), nil
}

func main() {
	logFileFlag, logLevelFlag := setFlagsForLogging()
	interpreter := flag.String("interpreter", "", "path to the interpreter binary (ignored when $SNAKETONGS_PYTHON is set; defaults to python3)")
	width := flag.Int("width", 8, "integer word width negotiated with the subprocess (4 or 8)")
	flag.Parse()

	log, err := setupLogging(logFileFlag, logLevelFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Best-effort: detach into our own process group so a Ctrl-C at the
	// controlling terminal doesn't race the subprocess's own signal
	// handling during teardown.
	if err := unix.Setpgid(0, 0); err != nil {
		log.WithError(err).Debug("setpgid failed, continuing in the parent's process group")
	}

	bridge, err := snaketongs.Spawn(snaketongs.Config{
		InterpreterPath: *interpreter,
		Width:           *width,
		Log:             log,
	})
	if err != nil {
		log.WithError(err).Fatal("spawn bridge")
	}
	defer bridge.Close()

	fmt.Fprintln(os.Stderr, "snaketongs-repl: enter a dotted global name to look it up and print repr(), or name(arg,...) to call it")
	runLoop(bridge, log)
}

func runLoop(bridge *snaketongs.Bridge, log *logrus.Entry) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := evalLine(bridge, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			log.WithError(err).Warn("evaluation failed")
		}
	}
}

// evalLine supports two forms: a bare dotted global name, and a call of the
// form name(arg,...) where each arg is parsed as an int64 literal. It exists
// to exercise Global, Call, Int, and GetStr end to end from a terminal, not
// to be a real expression evaluator.
func evalLine(bridge *snaketongs.Bridge, line string) error {
	name, argsPart, isCall := strings.Cut(line, "(")
	name = strings.TrimSpace(name)

	global, err := bridge.Global(name)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	defer global.Close()

	result := global
	if isCall {
		argsPart = strings.TrimSuffix(strings.TrimSpace(argsPart), ")")
		args, err := parseIntArgs(bridge, argsPart)
		if err != nil {
			return err
		}
		defer closeAll(args)
		result, err = bridge.Call(global, args...)
		if err != nil {
			return fmt.Errorf("call %s: %w", name, err)
		}
		defer result.Close()
	}

	repr, err := bridge.Global("repr")
	if err != nil {
		return err
	}
	defer repr.Close()
	reprStr, err := bridge.Call(repr, result)
	if err != nil {
		return err
	}
	defer reprStr.Close()
	s, err := bridge.GetStr(reprStr)
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}

func parseIntArgs(bridge *snaketongs.Bridge, argsPart string) ([]*snaketongs.Proxy, error) {
	if argsPart == "" {
		return nil, nil
	}
	parts := strings.Split(argsPart, ",")
	out := make([]*snaketongs.Proxy, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		var v int64
		if _, err := fmt.Sscanf(p, "%d", &v); err != nil {
			closeAll(out)
			return nil, fmt.Errorf("argument %q is not an integer literal: %w", p, err)
		}
		proxy, err := bridge.Int(v)
		if err != nil {
			closeAll(out)
			return nil, err
		}
		out = append(out, proxy)
	}
	return out, nil
}

func closeAll(proxies []*snaketongs.Proxy) {
	for _, p := range proxies {
		_ = p.Close()
	}
}
