package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/srtrecv/internal/tsutil"
)

// chunkSize is the standard SRT payload: 7 transport stream packets.
const chunkSize = tsutil.TSPacketSize * 7

// syntheticFPS is the frame rate of tsutil.SyntheticStream.
const syntheticFPS = 30

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:9991", "SRT receiver address")
	fileFlag := flag.String("file", "", "TS file to push (default: synthetic stream)")
	bitrateFlag := flag.Int("bitrate", 0, "Send rate in kbit/s (default: file size over -duration)")
	durationFlag := flag.Float64("duration", 0, "Duration of the file in seconds, used for pacing")
	framesFlag := flag.Int("frames", 300, "Video frames in the synthetic stream")
	latencyFlag := flag.Duration("latency", 120*time.Millisecond, "SRT latency")
	streamIDFlag := flag.String("streamid", "live/test", "SRT stream ID")
	onceFlag := flag.Bool("once", false, "Send the input once instead of looping")
	flag.Parse()

	var data []byte
	duration := *durationFlag
	if *fileFlag != "" {
		var err error
		data, err = os.ReadFile(*fileFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
			os.Exit(1)
		}
		if len(data)%tsutil.TSPacketSize != 0 {
			fmt.Fprintf(os.Stderr, "Warning: file size not a multiple of %d\n", tsutil.TSPacketSize)
		}
	} else {
		data = tsutil.SyntheticStream(*framesFlag)
		if duration <= 0 {
			duration = float64(*framesFlag) / syntheticFPS
		}
	}
	if len(data) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to send")
		os.Exit(1)
	}

	bytesPerSec := selectRate(*bitrateFlag, duration, len(data))
	fmt.Printf("Sending %d bytes (%d packets) at %.0f bytes/sec to %s\n",
		len(data), len(data)/tsutil.TSPacketSize, bytesPerSec, *addrFlag)

	for {
		fmt.Printf("[%s] Connecting to SRT %s...\n", *streamIDFlag, *addrFlag)

		cfg := srt.DefaultConfig()
		cfg.StreamID = *streamIDFlag
		setNanos(&cfg.Latency, *latencyFlag)

		conn, err := srt.Dial(*addrFlag, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] SRT connect failed: %v, retrying...\n", *streamIDFlag, err)
			time.Sleep(time.Second)
			continue
		}

		fmt.Printf("[%s] Connected\n", *streamIDFlag)
		writeErr := streamLoop(conn, data, bytesPerSec, *onceFlag, *streamIDFlag)
		conn.Close()

		if writeErr == nil {
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] Connection lost: %v, reconnecting...\n", *streamIDFlag, writeErr)
		time.Sleep(time.Second)
	}
}

// selectRate returns the pacing rate in bytes per second. An explicit
// bitrate wins, then size over duration, then 60 seconds per pass.
func selectRate(bitrateKbps int, duration float64, size int) float64 {
	if bitrateKbps > 0 {
		return float64(bitrateKbps) * 1000 / 8
	}
	if duration <= 0 {
		duration = 60
	}
	return float64(size) / duration
}

// setNanos stores d in an srtgo nanosecond field.
func setNanos[T ~int64](dst *T, d time.Duration) {
	*dst = T(d.Nanoseconds())
}

type writer interface {
	Write([]byte) (int, error)
}

func streamLoop(conn writer, data []byte, bytesPerSec float64, once bool, streamID string) error {
	start := time.Now()
	var sent int64
	lastLog := time.Now()
	const logInterval = 10 * time.Second

	for loop := 1; ; loop++ {
		for i := 0; i < len(data); i += chunkSize {
			end := min(i+chunkSize, len(data))
			if _, err := conn.Write(data[i:end]); err != nil {
				return err
			}
			sent += int64(end - i)

			// Pace against the global clock so there is no burst at the
			// loop seam.
			expected := float64(sent) / bytesPerSec
			if elapsed := time.Since(start).Seconds(); expected > elapsed {
				time.Sleep(time.Duration((expected - elapsed) * float64(time.Second)))
			}

			if time.Since(lastLog) >= logInterval {
				rate := float64(sent) / time.Since(start).Seconds()
				fmt.Printf("[%s] loop=%d rate=%.0f B/s (target=%.0f) total=%.1f MB\n",
					streamID, loop, rate, bytesPerSec, float64(sent)/(1024*1024))
				lastLog = time.Now()
			}
		}
		if once {
			return nil
		}
	}
}
