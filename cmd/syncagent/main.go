// syncagent runs one device against syncd and prints the channel traffic.
// Usage: go run ./cmd/syncagent
//
// Configuration comes from the environment or a .env file:
//
//	SYNC_BASE_URL       - syncd base URL (default http://localhost:8080)
//	SYNC_ROLE           - desktop or mobile
//	SYNC_USER_ID        - account ID for desktops (or SYNC_GUEST_TOKEN)
//	SYNC_PAIRING_TOKEN  - pairing token for mobiles
//	SYNC_SESSION_ID     - patient session the pairing token was minted for
//
// Lines typed on stdin are sent to the channel. On a mobile every line is a
// transcript. On a desktop the commands are:
//
//	switch <session-id>   make a session current and notify mobiles
//	kick <device-id>      force a device to disconnect
//	start | stop          remote-control recording on mobiles
//	devices               list present devices
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/clinicpro/dictation-sync/internal/api"
	"github.com/clinicpro/dictation-sync/internal/config"
	"github.com/clinicpro/dictation-sync/internal/connection"
	"github.com/clinicpro/dictation-sync/internal/model"
	"github.com/clinicpro/dictation-sync/internal/pairing"
	"github.com/clinicpro/dictation-sync/internal/router"
	"github.com/clinicpro/dictation-sync/internal/supervisor"
	"github.com/clinicpro/dictation-sync/internal/version"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncagent",
		"version", version.Version,
		"role", cfg.Role,
		"base_url", cfg.BaseURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("syncagent failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AgentConfig, logger *slog.Logger) error {
	client := api.NewClient(cfg.BaseURL, api.Credentials{
		UserID:       cfg.UserID,
		PairingToken: cfg.PairingToken,
		GuestToken:   cfg.GuestToken,
	},
		api.WithLogger(logger),
		api.WithTimeout(cfg.Timeout()),
		api.WithRetries(3, time.Second),
	)

	var creds supervisor.CredentialSource = api.NewTokenProvider(client, logger)
	if cfg.WSURL != "" {
		creds = endpointOverride{source: creds, endpoint: cfg.WSURL}
	}

	registry := connection.NewRegistry(logger, nil)
	defer registry.Close()

	scfg := supervisor.DefaultConfig(cfg.DeviceRole())
	scfg.UserAgent = cfg.UserAgent
	scfg.BaseDelay = cfg.BaseDelay()
	scfg.MaxAttempts = cfg.ReconnectMaxAttempts
	scfg.Client.PingInterval = cfg.Heartbeat()
	scfg.Client.PingTimeout = 2 * cfg.Heartbeat()

	var (
		sup    *supervisor.Supervisor
		device agent
		err    error
	)
	if cfg.DeviceRole() == model.RoleMobile {
		sup, device, err = newMobile(ctx, cfg, scfg, client, creds, registry, logger)
	} else {
		sup, device, err = newDesktop(scfg, client, creds, registry, logger)
	}
	if err != nil {
		return err
	}

	sup.OnStateChange(func(st model.ConnectionState) {
		logger.Info("connection state",
			"status", st.Status,
			"detail", st.Detail,
			"devices", len(st.Devices),
		)
	})
	sup.Router().OnDeviceConnected(func(m router.DeviceConnected) {
		logger.Info("device connected", "device_id", m.DeviceID, "name", m.DeviceName, "type", m.DeviceType)
	})
	sup.Router().OnDeviceDisconnected(func(m router.DeviceDisconnected) {
		logger.Info("device disconnected", "device_id", m.DeviceID)
	})

	if err := sup.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := sup.Stop(stopCtx); err != nil {
			logger.Warn("stop supervisor", "error", err)
		}
	}()

	self := sup.Self()
	logger.Info("device ready", "device_id", self.DeviceID, "name", self.DeviceName)

	if err := sup.Enable(); err != nil {
		return err
	}

	lines := make(chan string)
	go readLines(ctx, lines)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case line := <-lines:
			device.command(ctx, sup, line)
		}
	}
}

// agent handles stdin commands for one role.
type agent interface {
	command(ctx context.Context, sup *supervisor.Supervisor, line string)
}

// -----------------------------------------------------------------------------
// Desktop
// -----------------------------------------------------------------------------

type desktop struct {
	client *api.Client
	logger *slog.Logger
}

func newDesktop(scfg supervisor.Config, client *api.Client, creds supervisor.CredentialSource, registry *connection.Registry, logger *slog.Logger) (*supervisor.Supervisor, agent, error) {
	sup, err := supervisor.New(scfg, creds, registry, logger)
	if err != nil {
		return nil, nil, err
	}
	d := &desktop{client: client, logger: logger}

	// Handlers run on the router goroutine, so persistence happens elsewhere.
	sup.Router().OnTranscription(func(m router.Transcription) {
		logger.Info("transcription", "device_id", m.DeviceID, "session_id", m.PatientSessionID, "text", m.Transcript)
		go d.persist(m)
	})
	return sup, d, nil
}

func (d *desktop) persist(m router.Transcription) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := d.client.AppendTranscription(ctx, m.PatientSessionID, api.AppendTranscriptionRequest{
		Transcript:         m.Transcript,
		DiarizedTranscript: m.DiarizedTranscript,
		Utterances:         m.Utterances,
		DeviceID:           m.DeviceID,
	})
	if err != nil {
		d.logger.Error("failed to save transcription", "error", err)
		return
	}
	d.logger.Debug("transcription saved", "session_id", res.CurrentSessionID)
}

func (d *desktop) command(ctx context.Context, sup *supervisor.Supervisor, line string) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "switch":
		res, err := d.client.SwitchPatient(ctx, arg)
		if err != nil {
			d.logger.Error("switch patient", "error", err)
			return
		}
		name := ""
		if res.Session != nil {
			name = res.Session.PatientName
		}
		sent := sup.NotifyPatientSwitch(res.CurrentSessionID, name)
		d.logger.Info("switched patient", "session_id", res.CurrentSessionID, "notified", sent)
	case "kick":
		d.logger.Info("force disconnect", "device_id", arg, "sent", sup.ForceDisconnectDevice(arg))
	case "start":
		d.logger.Info("start recording", "sent", sup.StartRecording())
	case "stop":
		d.logger.Info("stop recording", "sent", sup.StopRecording())
	case "devices":
		for _, dev := range sup.State().Devices {
			fmt.Printf("%s\t%s\t%s\t%s\n", dev.DeviceID, dev.DeviceType, dev.DeviceName, dev.ConnectedAt.Format(time.Kitchen))
		}
	case "":
	default:
		d.logger.Warn("unknown command", "command", cmd)
	}
}

// -----------------------------------------------------------------------------
// Mobile
// -----------------------------------------------------------------------------

type mobile struct {
	logger  *slog.Logger
	session atomic.Value // string
	expired atomic.Bool
}

func newMobile(ctx context.Context, cfg *config.AgentConfig, scfg supervisor.Config, client *api.Client, creds supervisor.CredentialSource, registry *connection.Registry, logger *slog.Logger) (*supervisor.Supervisor, agent, error) {
	res, err := client.ValidatePairing(ctx, cfg.PairingToken, cfg.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: %w", err)
	}
	logger.Info("pairing validated",
		"user_id", res.UserID,
		"session_id", res.SessionID,
		"expires_in", pairing.FormatRemaining(time.Until(res.ExpiresAt)),
	)

	sup, err := supervisor.NewMobile(scfg, res, creds, registry, logger)
	if err != nil {
		return nil, nil, err
	}

	m := &mobile{logger: logger}
	m.session.Store(res.SessionID)
	if cur, err := client.CurrentSession(ctx, cfg.PairingToken); err != nil {
		logger.Warn("could not load current patient", "error", err)
	} else {
		m.session.Store(cur.SessionID)
		logger.Info("current patient", "session_id", cur.SessionID, "patient", cur.PatientName)
	}

	sup.Router().OnPatientSessionUpdate(func(u router.PatientSessionUpdate) {
		m.session.Store(u.PatientSessionID)
		logger.Info("patient switched", "session_id", u.PatientSessionID, "patient", u.PatientName)
	})
	sup.Router().OnSyncCurrentPatient(func(u router.SyncCurrentPatient) {
		m.session.Store(u.PatientSessionID)
		logger.Info("current patient synced", "session_id", u.PatientSessionID, "patient", u.PatientName)
	})
	sup.Router().OnRecordingControl(func(c router.RecordingControl) {
		if m.expired.Load() {
			logger.Warn("ignoring recording control, pairing expired", "action", c.Action)
			return
		}
		logger.Info("recording control", "action", c.Action)
	})

	// Expiry only disables recording; the connection stays up.
	countdown := pairing.NewCountdown(res.ExpiresAt, nil, func() {
		m.expired.Store(true)
		logger.Warn("pairing expired, recording disabled")
	})
	go countdown.Run(ctx)

	return sup, m, nil
}

func (m *mobile) command(_ context.Context, sup *supervisor.Supervisor, line string) {
	text := strings.TrimSpace(line)
	if text == "" {
		return
	}
	if m.expired.Load() {
		m.logger.Warn("pairing expired, transcript not sent")
		return
	}

	sessionID, _ := m.session.Load().(string)
	sent := sup.SendTranscription(router.Transcription{Transcript: text, PatientSessionID: sessionID})
	m.logger.Info("transcript", "sent", sent, "session_id", sessionID)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// endpointOverride replaces the WebSocket endpoint advertised by syncd,
// e.g. when the agent reaches syncd through a tunnel.
type endpointOverride struct {
	source   supervisor.CredentialSource
	endpoint string
}

func (e endpointOverride) Credential(ctx context.Context) (model.TokenRequest, error) {
	tr, err := e.source.Credential(ctx)
	if err != nil {
		return tr, err
	}
	tr.Endpoint = e.endpoint
	return tr, nil
}

func readLines(ctx context.Context, out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Warn("stdin closed", "error", err)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
