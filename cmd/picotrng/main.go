package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/picotrng/picotrng"
	"github.com/picotrng/picotrng/internal/sessiondb"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}

	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)

	HOME, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotPicotrng := filepath.Join(HOME, ".picotrng")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotPicotrng, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/picotrng"))
	viper.AddConfigPath(dotPicotrng)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	picotrng.Build.Date = buildDate
	picotrng.Build.Githash = githash
	picotrng.Build.Summary = fmt.Sprintf("PICOTRNG version %s (git commit %s)", picotrng.Build.Version, githash)
	if host, err := os.Hostname(); err == nil {
		picotrng.Build.Host = host
	} else {
		picotrng.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	statusPort := flag.Int("statusport", picotrng.Ports.Status, "ZMQ PUB port for status updates (0 disables)")
	pollMs := flag.Int("poll", 100, "stop-condition polling interval in milliseconds")
	replayDir := flag.String("replay", "", "replay raw .npy batch dumps from this directory instead of simulating")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is PICOTRNG version %s\n", picotrng.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".picotrng", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	picotrng.ProblemLogger = startLogger(problemname)
	picotrng.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging status updates to %s\n\n", logname)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}

	conf, err := picotrng.AcquireConfigFromViper()
	if err != nil {
		fmt.Fprintf(os.Stderr, "picotrng: %v\n", err)
		os.Exit(1)
	}
	if viper.GetBool("Verbose") {
		picotrng.UpdateLogger.Printf("acquisition configuration:\n%s", spew.Sdump(conf))
	}

	sessionID := ulid.Make().String()
	fmt.Printf("Session %s: %s mode, writing bits to %s\n", sessionID, conf.Mode, conf.OutputFile)

	outFile, err := os.Create(conf.OutputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "picotrng: cannot create output file: %v\n", err)
		os.Exit(1)
	}
	bw := picotrng.NewBitWriter(outFile, 1024, time.Second)

	abort := make(chan struct{})
	messages := make(chan picotrng.ClientUpdate, 16)
	if *statusPort > 0 {
		go picotrng.RunStatusPublisher(messages, *statusPort, abort)
	}

	sink := func(s picotrng.Status) {
		if s.Target > 0 {
			picotrng.UpdateLogger.Printf("Bits collected: %d/%d | Elapsed time: %.2f s",
				s.BitsCollected, s.Target, s.Elapsed.Seconds())
		} else {
			picotrng.UpdateLogger.Printf("Bits collected: %d | Elapsed time: %.2f s",
				s.BitsCollected, s.Elapsed.Seconds())
		}
		picotrng.QueueUpdate(messages, "STATUS", s)
	}

	controller, err := picotrng.NewAcquisitionController(conf, bw, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "picotrng: %v\n", err)
		os.Exit(1)
	}

	if dir := viper.GetString("rawdump.dir"); dir != "" {
		nbatches := viper.GetInt("rawdump.batches")
		if nbatches <= 0 {
			nbatches = 4
		}
		rd, err := picotrng.NewRawDump(dir, nbatches)
		if err != nil {
			fmt.Fprintf(os.Stderr, "picotrng: %v\n", err)
			os.Exit(1)
		}
		controller.SetRawDump(rd)
	}

	// The vendor driver is an external collaborator; this binary streams
	// either from previously dumped raw batches or from the built-in
	// simulated source, configured by the "simulator" block of the config
	// file.
	var source picotrng.BatchSource
	if *replayDir != "" {
		batches, err := picotrng.LoadRawBatches(*replayDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "picotrng: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Replaying %d recorded batches from %s\n", len(batches), *replayDir)
		source = &picotrng.ReplaySource{Batches: batches}
	} else {
		var simConf picotrng.SimulatedSourceConfig
		if err := viper.UnmarshalKey("simulator", &simConf); err != nil {
			fmt.Fprintf(os.Stderr, "picotrng: cannot unmarshal simulator config: %v\n", err)
			os.Exit(1)
		}
		source = picotrng.NewSimulatedSource(simConf)
	}

	start := time.Now()
	reason, runErr := controller.Run(source, time.Duration(*pollMs)*time.Millisecond)
	elapsed := time.Since(start)

	if err := bw.Close(); err != nil {
		picotrng.ProblemLogger.Printf("error closing bit writer: %v", err)
	}
	if err := outFile.Close(); err != nil {
		picotrng.ProblemLogger.Printf("error closing output file: %v", err)
	}

	fmt.Printf("Recording stopped after %.2f ms (%s), %d bits collected, %d overflowed batches dropped.\n",
		elapsed.Seconds()*1000, reason, controller.BitsCollected(), controller.OverflowsDropped())

	db := sessiondb.Start(abort)
	db.RecordSession(&sessiondb.SessionMessage{
		ID:             sessionID,
		Hostname:       picotrng.Build.Host,
		Mode:           string(conf.Mode),
		BitsCollected:  uint64(controller.BitsCollected()),
		ElapsedSeconds: elapsed.Seconds(),
		Overflows:      uint64(controller.OverflowsDropped()),
		StopReason:     reason.String(),
		OutputFile:     conf.OutputFile,
		Start:          start,
		End:            time.Now(),
	})
	close(abort)
	db.Wait() // let the session row land before exit

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "picotrng: session aborted: %v\n", runErr)
		os.Exit(1)
	}
}
