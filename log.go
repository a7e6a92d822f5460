package relay

import (
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/betanet/relay/batch"
	"github.com/betanet/relay/cover"
	"github.com/betanet/relay/delayinject"
	"github.com/betanet/relay/events"
	"github.com/betanet/relay/lottery"
	"github.com/betanet/relay/pipeline"
	"github.com/betanet/relay/reputation"
	"github.com/betanet/relay/sphinxcore"
	"github.com/betanet/relay/transport"
)

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it write to the same backend. This follows
// the teacher's per-subsystem btclog convention: a 4-character tag per
// package, a UseLogger hook, and a setLogLevels driven by --debuglevel.
var (
	backendLog = btclog.NewBackend(os.Stdout)

	logRotator *rotator.Rotator

	nodeLog = backendLog.Logger("NODE")
	pipeLog = backendLog.Logger("PIPE")
	sphxLog = backendLog.Logger("SPHX")
	lottLog = backendLog.Logger("LOTT")
	repLog  = backendLog.Logger("REP ")
	dlayLog = backendLog.Logger("DLAY")
	btchLog = backendLog.Logger("BTCH")
	covrLog = backendLog.Logger("COVR")
	xprtLog = backendLog.Logger("XPRT")
	evtLog  = backendLog.Logger("EVNT")
)

func init() {
	wireSubsystemLoggers()
}

// wireSubsystemLoggers hands every package its current logger instance.
// Called once at package init against the stdout-only backend, and
// again by InitLogging if the backend is rebuilt to also write to a
// rotated file.
func wireSubsystemLoggers() {
	sphinxcore.UseLogger(sphxLog)
	lottery.UseLogger(lottLog)
	reputation.UseLogger(repLog)
	delayinject.UseLogger(dlayLog)
	batch.UseLogger(btchLog)
	cover.UseLogger(covrLog)
	pipeline.UseLogger(pipeLog)
	transport.UseLogger(xprtLog)
	events.UseLogger(evtLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger,
// dynamically adjustable via setLogLevels.
var subsystemLoggers = map[string]btclog.Logger{
	"NODE": nodeLog,
	"PIPE": pipeLog,
	"SPHX": sphxLog,
	"LOTT": lottLog,
	"REP ": repLog,
	"DLAY": dlayLog,
	"BTCH": btchLog,
	"COVR": covrLog,
	"XPRT": xprtLog,
	"EVNT": evtLog,
}

// setLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func setLogLevel(subsystemID, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// initLogRotator initializes the logging rotator to write logs to logFile,
// rolling over in the same directory. Optional: a relay node may also log
// only to stdout.
func initLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return err
	}

	logRotator = r

	return nil
}

// InitLogging finishes wiring the ambient logger stack for cmd/betanetd:
// every subsystem's level is set from debugLevel (spec.md §6 LOG_LEVEL),
// and - if logDir is non-empty - output is additionally mirrored to a
// rotated file under logDir via github.com/jrick/logrotate, the
// teacher's own rotation library.
func InitLogging(logDir, debugLevel string) error {
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return err
		}
		if err := initLogRotator(filepath.Join(logDir, "betanetd.log"), 10*1024, 3); err != nil {
			return err
		}

		backendLog = btclog.NewBackend(io.MultiWriter(os.Stdout, logRotator))

		nodeLog = backendLog.Logger("NODE")
		pipeLog = backendLog.Logger("PIPE")
		sphxLog = backendLog.Logger("SPHX")
		lottLog = backendLog.Logger("LOTT")
		repLog = backendLog.Logger("REP ")
		dlayLog = backendLog.Logger("DLAY")
		btchLog = backendLog.Logger("BTCH")
		covrLog = backendLog.Logger("COVR")
		xprtLog = backendLog.Logger("XPRT")
		evtLog = backendLog.Logger("EVNT")

		subsystemLoggers = map[string]btclog.Logger{
			"NODE": nodeLog,
			"PIPE": pipeLog,
			"SPHX": sphxLog,
			"LOTT": lottLog,
			"REP ": repLog,
			"DLAY": dlayLog,
			"BTCH": btchLog,
			"COVR": covrLog,
			"XPRT": xprtLog,
			"EVNT": evtLog,
		}

		wireSubsystemLoggers()
	}

	setLogLevels(debugLevel)

	return nil
}
