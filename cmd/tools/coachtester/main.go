package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/capture"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/playback"
	"github.com/zhouzirui/accent-coach/backend/internal/config"
	model "github.com/zhouzirui/accent-coach/backend/internal/model/coach"
	"github.com/zhouzirui/accent-coach/backend/internal/service/coach"
	"github.com/zhouzirui/accent-coach/backend/internal/service/live"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var apiKey string

	root := &cobra.Command{
		Use:           "coachtester",
		Short:         "Exercise the live coach session and phrase synthesis from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiKey, "key", "", "API key override (defaults to GEMINI_API_KEY)")

	root.AddCommand(newLiveCmd(&apiKey))
	root.AddCommand(newPhraseCmd(&apiKey))
	return root
}

func newLiveCmd(apiKey *string) *cobra.Command {
	var out string
	var listen, silence time.Duration

	cmd := &cobra.Command{
		Use:   "live <input.wav>",
		Short: "Stream a WAV file to the coach and record its spoken replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}
			if out == "" {
				out = fmt.Sprintf("coach-%d.wav", time.Now().Unix())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			devices := &fileDevices{mic: &capture.WAVMicrophone{
				Path:            args[0],
				Frame:           100 * time.Millisecond,
				TrailingSilence: silence,
			}}
			return runLive(ctx, cmd, cfg, devices, *apiKey, listen, out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output WAV path for the coach audio")
	cmd.Flags().DurationVar(&listen, "listen", 30*time.Second, "how long to keep the session open")
	cmd.Flags().DurationVar(&silence, "silence", 2*time.Second, "silence appended after the input so the coach replies")
	return cmd
}

func runLive(ctx context.Context, cmd *cobra.Command, cfg *config.Config, devices *fileDevices, apiKey string, listen time.Duration, out string) error {
	dialOptions := live.DefaultDialOptions()
	dialOptions.HandshakeTimeout = cfg.Coach.Timeout
	client := live.NewClient(cfg.Coach.LiveURL, cfg.Coach.APIKey, dialOptions)

	ctrl := coach.NewController(fmt.Sprintf("manual-%d", time.Now().UnixNano()), coach.Config{
		Model:             cfg.Coach.Model,
		Voice:             cfg.Coach.Voice,
		SystemInstruction: cfg.Coach.SystemInstruction,
		InputRate:         cfg.Coach.InputRate,
		OutputRate:        cfg.Coach.OutputRate,
		FrameSamples:      cfg.Coach.FrameSamples,
		SendQueue:         cfg.Coach.SendQueue,
	}, coach.LiveDialer(client), devices, nil)

	snaps, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	if err := ctrl.Connect(ctx, model.ConnectOptions{APIKey: apiKey}); err != nil {
		return err
	}
	log.Printf("[coachtester] session connected, listening for %s", listen)

	timer := time.NewTimer(listen)
	defer timer.Stop()

	printed := 0
	var lastText string
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
			break loop
		case snap := <-snaps:
			printed, lastText = printTranscript(cmd, snap.Transcript, printed, lastText)
			if snap.State == model.StateClosed {
				if snap.Error != nil {
					return fmt.Errorf("%s: %s", snap.Error.Kind, snap.Error.Message)
				}
				break loop
			}
		}
	}

	ctrl.Disconnect()
	stats := ctrl.Snapshot().Stats
	log.Printf("[coachtester] sent %d chunks (%d dropped), played %d buffers, %d interruptions",
		stats.ChunksSent, stats.ChunksDropped, stats.BuffersPlayed, stats.Interruptions)

	rec := devices.output()
	if rec == nil {
		return fmt.Errorf("no output was opened")
	}
	return writeWAV(out, rec.Buffer())
}

// printTranscript 打印新出现或合并后变化的条目
func printTranscript(cmd *cobra.Command, entries []model.Entry, printed int, lastText string) (int, string) {
	if printed > 0 && printed <= len(entries) && entries[printed-1].Text != lastText {
		e := entries[printed-1]
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %-5s … %s\n", e.Role, e.Text)
	}
	for _, e := range entries[min(printed, len(entries)):] {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-5s: %s\n", e.Role, e.Text)
	}
	if len(entries) == 0 {
		return 0, ""
	}
	return len(entries), entries[len(entries)-1].Text
}

func newPhraseCmd(apiKey *string) *cobra.Command {
	var out string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "phrase <text>",
		Short: "Synthesize the coach's pronunciation of a phrase into a WAV file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}

			synth := live.NewPhraseSynthesizer(live.PhraseConfig{
				BaseURL: cfg.Phrase.BaseURL,
				APIKey:  cfg.Phrase.APIKey,
				Model:   cfg.Phrase.Model,
				Voice:   cfg.Phrase.Voice,
				Timeout: cfg.Phrase.Timeout,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			text := strings.Join(args, " ")
			audio, err := synth.Synthesize(ctx, text, *apiKey)
			if err != nil {
				classified := coach.ClassifyError(err, coach.PhasePhrase)
				return fmt.Errorf("%s (%w)", classified.Message, err)
			}
			if out == "" {
				out = "phrase.wav"
			}
			if err := writeWAV(out, audio.Buffer); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %.2fs of audio at %d Hz to %s\n", audio.Buffer.Duration(), audio.Buffer.SampleRate, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output WAV path (default phrase.wav)")
	cmd.Flags().DurationVar(&timeout, "timeout", 45*time.Second, "request timeout")
	return cmd
}

func writeWAV(path string, buf *pcm.Buffer) error {
	data, err := pcm.EncodeWAV(buf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Printf("[coachtester] wrote %s (%.2fs)", path, buf.Duration())
	return nil
}

// fileDevices 用 WAV 文件做麦克风，把播放内容录到内存时间线
type fileDevices struct {
	mic *capture.WAVMicrophone

	mu       sync.Mutex
	contexts []*playback.Recorder
}

func (d *fileDevices) Microphone() capture.Microphone { return d.mic }

func (d *fileDevices) OpenContext(sampleRate int) (playback.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := playback.NewRecorder(sampleRate, nil)
	d.contexts = append(d.contexts, rec)
	return rec, nil
}

// output 控制器先打开采集上下文，再打开播放上下文
func (d *fileDevices) output() *playback.Recorder {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.contexts) == 0 {
		return nil
	}
	return d.contexts[len(d.contexts)-1]
}
