// Command confclient drives one conferencing session end to end: it
// signs in, joins a conference, and brings up a capture/renderer session
// for every device the server connects it to.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/videograce/confcore/pkg/config"
	"github.com/videograce/confcore/pkg/controller"
	"github.com/videograce/confcore/pkg/logger"
	"github.com/videograce/confcore/pkg/mixer"
	"github.com/videograce/confcore/pkg/recorder"
	"github.com/videograce/confcore/pkg/session"
	"github.com/videograce/confcore/pkg/transport"
)

func main() {
	fs := flag.NewFlagSet("confclient", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	envPath := fs.String("env", ".env", "path to a .env-style configuration file")
	tag := fs.String("tag", "", "conference tag to join")
	hasCamera := fs.Bool("camera", false, "publish a camera device")
	hasMicrophone := fs.Bool("microphone", true, "publish a microphone device")
	hasDemonstration := fs.Bool("demonstration", false, "publish a screen-share device")
	recordPath := fs.String("record", "", "if set, write the conference's mixed audio/video to this WebM file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Conferencing client engine\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	logger.SetDefault(log)

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.Connection.Address == "" {
		log.Error("Connection/Address is not set in configuration")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	mix := mixer.New()
	mix.Start(cfg.CaptureDevices.MicrophoneSampleFreq)

	var rec *recorder.Recorder
	if *recordPath != "" {
		rec, err = recorder.New(*recordPath, recorder.Options{
			Log:             log.With("component", "recorder").Logger,
			AudioSampleFreq: cfg.CaptureDevices.MicrophoneSampleFreq,
		})
		if err != nil {
			log.Error("failed to open recorder output", "error", err)
			os.Exit(1)
		}
		defer rec.Stop()
		go pullMixedAudioForRecorder(ctx, mix, rec, cfg.CaptureDevices.MicrophoneSampleFreq)
	}

	factory := &deviceFactory{
		log: log,
		cfg: cfg,
		mix: mix,
		rec: rec,
	}

	ctl := controller.New(controller.Config{
		ClientVersion: "1.0",
		System:        "confclient",
	}, factory, log)

	ctl.OnStateChange = func(from, to controller.State) {
		log.Info("controller state changed", "from", from.String(), "to", to.String())
	}
	ctl.OnAuthNeeded = func(reason controller.AuthNeededReason) {
		log.Error("authentication required", "reason", reason)
		cancel()
	}
	ctl.OnMemberChange = func(m *controller.Member) {
		log.Info("member state changed", "id", m.ID, "name", m.Name, "state", m.State.String())
		if rec != nil {
			rec.SpeakerChanged(m.ID)
		}
	}
	ctl.OnUnhandledCommand = func(name string, raw json.RawMessage) {
		log.Debug("unhandled signalling command", "name", name)
	}

	if err := ctl.Connect(cfg.Connection.Address, cfg.Connection.Secure, cfg.Credentials.Login, cfg.Credentials.Password); err != nil {
		log.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer ctl.Disconnect()

	joinCtx, joinCancel := context.WithTimeout(ctx, 15*time.Second)
	conf, err := ctl.JoinConference(joinCtx, *tag, *hasCamera, *hasMicrophone, *hasDemonstration)
	joinCancel()
	if err != nil {
		log.Error("failed to join conference", "error", err)
		os.Exit(1)
	}
	log.Info("joined conference", "id", conf.ID, "name", conf.Name)

	<-ctx.Done()
	log.Info("shutting down")
	_ = ctl.LeaveConference()
}

// deviceFactory implements controller.SessionFactory, wiring each
// signalled device to a real capture/renderer session over a dedicated
// UDP socket. Platform capture devices are out of scope for this
// engine (see SPEC_FULL.md's Non-goals); the capture sources below are
// deterministic placeholders (silence, a solid test-pattern frame) that
// exercise the full encode/encrypt/send pipeline without real hardware.
type deviceFactory struct {
	log *logger.Logger
	cfg *config.Config
	mix *mixer.Mixer
	rec *recorder.Recorder
}

func (f *deviceFactory) socketFor(deviceID int64) transport.Socket {
	sock := transport.NewUDPSocket(f.log.Logger, 0)
	return sock
}

func (f *deviceFactory) NewCaptureAudio(deviceID int64, ssrc uint32, peerAddr transport.Address, secureKey []byte) (controller.Session, error) {
	sock := f.socketFor(deviceID)
	sess := session.NewCaptureAudioSession(
		deviceID, ssrc, peerAddr,
		f.cfg.CaptureDevices.MicrophoneSampleFreq, 32, 8, 10,
		secureKey, sock, silenceSource, f.log,
	)
	if err := sess.Start(); err != nil {
		return nil, fmt.Errorf("confclient: start capture audio %d: %w", deviceID, err)
	}
	return sess, nil
}

func (f *deviceFactory) NewCaptureVideo(deviceID int64, ssrc uint32, peerAddr transport.Address, secureKey []byte) (controller.Session, error) {
	sock := f.socketFor(deviceID)
	res := session.Resolution{Width: 1280, Height: 720}
	sess := session.NewCaptureVideoSession(
		deviceID, ssrc, peerAddr, res, 30, 800, false,
		secureKey, sock, testPatternSource(res), f.log,
	)
	if err := sess.Start(); err != nil {
		return nil, fmt.Errorf("confclient: start capture video %d: %w", deviceID, err)
	}
	return sess, nil
}

func (f *deviceFactory) NewRendererAudio(deviceID, receiverSSRC, authorSSRC int64, peerAddr transport.Address, clientID int64, secureKey []byte) (controller.Session, error) {
	sock := f.socketFor(deviceID)
	sess, err := session.NewRendererAudioSession(
		deviceID, uint32(receiverSSRC), uint32(authorSSRC), peerAddr, clientID,
		f.cfg.CaptureDevices.MicrophoneSampleFreq, secureKey, sock, f.mix, f.log,
	)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(); err != nil {
		return nil, fmt.Errorf("confclient: start renderer audio %d: %w", deviceID, err)
	}
	return sess, nil
}

func (f *deviceFactory) NewRendererVideo(deviceID, receiverSSRC, authorSSRC int64, peerAddr transport.Address, clientID int64, secureKey []byte) (controller.Session, error) {
	sock := f.socketFor(deviceID)
	res := session.Resolution{Width: 1280, Height: 720}
	sess, err := session.NewRendererVideoSession(
		deviceID, uint32(receiverSSRC), uint32(authorSSRC), peerAddr, clientID,
		res, secureKey, sock, f.log,
	)
	if err != nil {
		return nil, err
	}
	if f.rec != nil {
		f.rec.AddVideo(uint32(authorSSRC), clientID, 1, fmt.Sprintf("%dx%d", res.Width, res.Height))
		rec := f.rec
		ssrc := uint32(authorSSRC)
		sess.OnEncodedFrame = func(frame []byte, isKey bool) {
			if err := rec.ProcessVideoFrame(ssrc, frame); err != nil {
				f.log.Debug("recorder dropped video frame", "ssrc", ssrc, "error", err)
			}
		}
	}
	if err := sess.Start(); err != nil {
		return nil, fmt.Errorf("confclient: start renderer video %d: %w", deviceID, err)
	}
	return sess, nil
}

// silenceSource is the placeholder MicrophoneSource: it blocks for one
// AEC frame period and returns silence, keeping the capture pipeline's
// timing realistic without a real audio device.
func silenceSource() ([]int16, error) {
	time.Sleep(40 * time.Millisecond)
	return make([]int16, 48000/1000*40), nil
}

// testPatternSource is the placeholder VideoSource: it blocks for one
// frame period and returns a flat mid-gray I420 frame.
func testPatternSource(res session.Resolution) session.VideoSource {
	return func() (*image.YCbCr, error) {
		time.Sleep(33 * time.Millisecond)
		img := image.NewYCbCr(image.Rect(0, 0, res.Width, res.Height), image.YCbCrSubsampleRatio420)
		for i := range img.Y {
			img.Y[i] = 0x80
		}
		for i := range img.Cb {
			img.Cb[i] = 0x80
		}
		for i := range img.Cr {
			img.Cr[i] = 0x80
		}
		return img, nil
	}
}

// pullMixedAudioForRecorder drains the mixer's output at the 10ms cadence
// pkg/recorder's timestamp accounting assumes, feeding every frame to the
// recorder regardless of whether anything is actually speaking yet.
func pullMixedAudioForRecorder(ctx context.Context, mix *mixer.Mixer, rec *recorder.Recorder, sampleFreq int) {
	frame := sampleFreq / 100 // 10ms of samples
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buf := make([]int16, frame)
			mix.GetSound(buf)
			_ = rec.ProcessAudioPCM(buf)
		}
	}
}
