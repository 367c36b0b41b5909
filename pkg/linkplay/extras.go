package linkplay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
	"github.com/linkplay-community/linkplay-go/pkg/normalize"
	"github.com/linkplay-community/linkplay-go/pkg/transport"
)

// audioOutputSelectors maps the mode names reported by the device back to
// the selector values setAudioOutputHardwareMode expects.
var audioOutputSelectors = map[string]string{
	"optical":  "1",
	"line_out": "2",
	"coaxial":  "3",
}

// EQ returns the active EQ preset name, empty when EQ is off or unknown.
func (p *Player) EQ() string {
	return p.state.Snapshot().EQPreset
}

// EQPresets returns the preset names cached by the last refresh.
func (p *Player) EQPresets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.eqPresets...)
}

// SetEQPreset activates an EQ preset by name. The name is matched
// case-insensitively against the cached list when one exists.
func (p *Player) SetEQPreset(ctx context.Context, name string) error {
	if !p.Profile().Endpoints.EQ {
		return p.unsupported("player.set_eq_preset")
	}
	p.mu.Lock()
	known := p.eqPresets
	p.mu.Unlock()
	if len(known) > 0 {
		matched := ""
		for _, candidate := range known {
			if strings.EqualFold(candidate, name) {
				matched = candidate
				break
			}
		}
		if matched == "" {
			return lperr.New(lperr.ErrPrecondition, "player.set_eq_preset").
				WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
		}
		name = matched
	}
	return p.exec(ctx, "player.set_eq_preset", "EQLoad:"+name,
		model.StatusPatch{EQPreset: &name})
}

// SetEQEnabled switches the equalizer on or off. Switching on leaves the
// preset to the next poll; switching off clears it.
func (p *Player) SetEQEnabled(ctx context.Context, enabled bool) error {
	if !p.Profile().Endpoints.EQ {
		return p.unsupported("player.set_eq_enabled")
	}
	if enabled {
		return p.exec(ctx, "player.set_eq_enabled", "EQOn", model.StatusPatch{})
	}
	none := ""
	return p.exec(ctx, "player.set_eq_enabled", "EQOff",
		model.StatusPatch{EQPreset: &none})
}

// EQBands reads the graphic-equalizer band gains from the device.
func (p *Player) EQBands(ctx context.Context) ([]model.EQBand, error) {
	if !p.Profile().Endpoints.EQ {
		return nil, p.unsupported("player.eq_bands")
	}
	ctx, cancel := p.opCtx(ctx, p.timeout)
	defer cancel()
	body, err := p.client.Execute(ctx, "EQGetBand")
	if err != nil {
		return nil, err
	}
	return normalize.ParseEQBands(body)
}

// SetEQBand sets one band's gain in dB. Gain is clamped to the firmware's
// accepted range of -10 to 10.
func (p *Player) SetEQBand(ctx context.Context, index, gain int) error {
	if !p.Profile().Endpoints.EQ {
		return p.unsupported("player.set_eq_band")
	}
	if index < 0 {
		return lperr.New(lperr.ErrPrecondition, "player.set_eq_band").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	if gain < -10 {
		gain = -10
	} else if gain > 10 {
		gain = 10
	}
	return p.exec(ctx, "player.set_eq_band",
		fmt.Sprintf("EQSetBand:%d:%d", index, gain), model.StatusPatch{})
}

// Presets returns the hardware preset slots cached by the last refresh.
func (p *Player) Presets() []model.Preset {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Preset(nil), p.presets...)
}

// PlayPreset triggers hardware preset n, as the physical buttons do. Valid
// slots are 1 through the device's preset key count.
func (p *Player) PlayPreset(ctx context.Context, n int) error {
	if !p.Profile().Endpoints.Presets {
		return p.unsupported("player.play_preset")
	}
	limit := p.DeviceInfo().PresetKey
	if limit <= 0 {
		limit = 10
	}
	if n < 1 || n > limit {
		return lperr.New(lperr.ErrPrecondition, "player.play_preset").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	return p.exec(ctx, "player.play_preset",
		fmt.Sprintf("MCUKeyShortClick:%d", n), model.StatusPatch{})
}

// AudioOutput returns the hardware output state from the last full refresh.
// ok is false before the first full refresh or when the device lacks the
// endpoint.
func (p *Player) AudioOutput() (model.AudioOutput, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audioOutput == nil {
		return model.AudioOutput{}, false
	}
	return *p.audioOutput, true
}

// SetAudioOutput selects the hardware output: "optical", "line_out" or
// "coaxial".
func (p *Player) SetAudioOutput(ctx context.Context, mode string) error {
	if !p.Profile().Endpoints.AudioOutput {
		return p.unsupported("player.set_audio_output")
	}
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mode), "-", "_"))
	selector, ok := audioOutputSelectors[key]
	if !ok {
		return lperr.New(lperr.ErrPrecondition, "player.set_audio_output").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}

	ctx, cancel := p.opCtx(ctx, p.timeout)
	defer cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.client.ExecuteOK(ctx, "setAudioOutputHardwareMode:"+selector); err != nil {
		return err
	}
	p.audioOutput = &model.AudioOutput{Mode: key, Hardware: selector}
	return nil
}

// BluetoothHistory returns the paired-device history cached by the last
// slow-lane refresh.
func (p *Player) BluetoothHistory() []model.BluetoothDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.BluetoothDevice(nil), p.btHistory...)
}

// Alarm reads one alarm slot (0..2).
func (p *Player) Alarm(ctx context.Context, slot int) (model.Alarm, error) {
	cmds := transport.Chain(p.Profile(), transport.EndpointAlarms)
	if len(cmds) == 0 {
		return model.Alarm{}, p.unsupported("player.alarm")
	}
	if slot < 0 || slot > 2 {
		return model.Alarm{}, lperr.New(lperr.ErrPrecondition, "player.alarm").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	ctx, cancel := p.opCtx(ctx, p.timeout)
	defer cancel()
	body, err := p.client.Execute(ctx, fmt.Sprintf("%s:%d", cmds[0], slot))
	if err != nil {
		return model.Alarm{}, err
	}
	return normalize.ParseAlarm(slot, body)
}

// SetAlarm programs an alarm slot. Trigger and Time are required; Date,
// WeekDays and URL are appended when present, matching the firmware's
// positional format.
func (p *Player) SetAlarm(ctx context.Context, alarm model.Alarm) error {
	if !p.Profile().Endpoints.Alarms {
		return p.unsupported("player.set_alarm")
	}
	if alarm.Slot < 0 || alarm.Slot > 2 || alarm.Trigger == "" || alarm.Time == "" {
		return lperr.New(lperr.ErrPrecondition, "player.set_alarm").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	parts := []string{
		"setAlarmClock",
		fmt.Sprint(alarm.Slot),
		alarm.Trigger,
		alarm.Operation,
		alarm.Time,
	}
	if alarm.Date != "" {
		parts = append(parts, alarm.Date)
	}
	if alarm.WeekDays != "" {
		parts = append(parts, alarm.WeekDays)
	}
	if alarm.URL != "" {
		parts = append(parts, alarm.URL)
	}
	return p.exec(ctx, "player.set_alarm", strings.Join(parts, ":"), model.StatusPatch{})
}

// ClearAlarm cancels an alarm slot.
func (p *Player) ClearAlarm(ctx context.Context, slot int) error {
	if !p.Profile().Endpoints.Alarms {
		return p.unsupported("player.clear_alarm")
	}
	if slot < 0 || slot > 2 {
		return lperr.New(lperr.ErrPrecondition, "player.clear_alarm").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	return p.exec(ctx, "player.clear_alarm",
		fmt.Sprintf("setAlarmClock:%d:0", slot), model.StatusPatch{})
}

// SetShutdownTimer arms the sleep timer: seconds until shutdown, 0 to
// cancel, -1 for an immediate shutdown.
func (p *Player) SetShutdownTimer(ctx context.Context, seconds int) error {
	if !p.Profile().Endpoints.Alarms {
		return p.unsupported("player.set_shutdown_timer")
	}
	return p.exec(ctx, "player.set_shutdown_timer",
		fmt.Sprintf("setShutdown:%d", seconds), model.StatusPatch{})
}

// ShutdownTimer reads the remaining sleep timer; zero when none is armed.
func (p *Player) ShutdownTimer(ctx context.Context) (time.Duration, error) {
	ctx, cancel := p.opCtx(ctx, p.timeout)
	defer cancel()
	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.Profile(), transport.EndpointShutdownTimer))
	if err != nil {
		return 0, err
	}
	seconds, err := normalize.ParseShutdownTimer(body)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

// PlayURL starts playback of a stream or file URL.
func (p *Player) PlayURL(ctx context.Context, url string) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return lperr.New(lperr.ErrPrecondition, "player.play_url").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	return p.exec(ctx, "player.play_url", "setPlayerCmd:play:"+url,
		model.StatusPatch{PlayState: model.Ptr(model.PlayStatePlay)})
}

// PlayPlaylist starts the device-local playlist at the given entry.
func (p *Player) PlayPlaylist(ctx context.Context, index int) error {
	if index < 0 {
		return lperr.New(lperr.ErrPrecondition, "player.play_playlist").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	return p.exec(ctx, "player.play_playlist",
		fmt.Sprintf("setPlayerCmd:playLocalList:%d", index),
		model.StatusPatch{PlayState: model.Ptr(model.PlayStatePlay)})
}

// PlayNotification ducks playback, plays the prompt URL, and restores the
// previous stream, all firmware-side. Only on devices with the prompt
// endpoint.
func (p *Player) PlayNotification(ctx context.Context, url string) error {
	if !p.Profile().Endpoints.PromptURL {
		return p.unsupported("player.play_notification")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return lperr.New(lperr.ErrPrecondition, "player.play_notification").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	return p.exec(ctx, "player.play_notification", "playPromptUrl:"+url, model.StatusPatch{})
}

// Reboot restarts the device. The HTTP connection drops without a response
// body; that counts as success.
func (p *Player) Reboot(ctx context.Context) error {
	return p.exec(ctx, "player.reboot", "reboot", model.StatusPatch{})
}

// SetDeviceName renames the device. The stored identity updates
// optimistically and is confirmed by the next full refresh.
func (p *Player) SetDeviceName(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return lperr.New(lperr.ErrPrecondition, "player.set_device_name").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	ctx, cancel := p.opCtx(ctx, p.timeout)
	defer cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.client.ExecuteOK(ctx, "setDeviceName:"+name); err != nil {
		return err
	}
	p.info.Name = name
	return nil
}

// SetLED switches the status LED on devices exposing the control.
func (p *Player) SetLED(ctx context.Context, on bool) error {
	if !p.Profile().Endpoints.LED {
		return p.unsupported("player.set_led")
	}
	flag := 0
	if on {
		flag = 1
	}
	return p.exec(ctx, "player.set_led",
		fmt.Sprintf("LED_SWITCH_SET:%d", flag), model.StatusPatch{})
}

// SetLEDBrightness sets the status LED brightness in percent.
func (p *Player) SetLEDBrightness(ctx context.Context, percent int) error {
	if !p.Profile().Endpoints.LED {
		return p.unsupported("player.set_led_brightness")
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	return p.exec(ctx, "player.set_led_brightness",
		fmt.Sprintf("LED_BRIGHTNESS_SET:%d", percent), model.StatusPatch{})
}

func (p *Player) unsupported(op string) error {
	return lperr.New(lperr.ErrUnsupported, op).
		WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
}
