package linkplay

import (
	"context"
	"fmt"
	"time"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
	"github.com/linkplay-community/linkplay-go/pkg/normalize"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
)

// loopModeDenied lists sources where shuffle and repeat have no effect:
// live radio and cast protocols control playback order on the sending side.
var loopModeDenied = map[model.Source]bool{
	model.SourceAirplay:     true,
	model.SourceTuneIn:      true,
	model.SourceIHeartRadio: true,
	model.SourceVTuner:      true,
}

// exec is the command pattern every setter follows: one API call under the
// player mutex, then an optimistic merge of the fields the command changed.
// No refresh is issued afterwards; the next poll or event reconciles. The
// callback fires after the mutex is released.
func (p *Player) exec(ctx context.Context, op, cmd string, patch model.StatusPatch) error {
	ctx, cancel := p.opCtx(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return lperr.New(lperr.ErrPrecondition, op).WithDevice(p.host, "", "")
	}
	err := p.client.ExecuteOK(ctx, cmd)
	var changed []model.Field
	if err == nil && !patch.IsEmpty() {
		changed = p.state.UpdateFromHTTP(patch)
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.notify(changed)
	return nil
}

// routeToMaster resolves the delegation target for transport commands issued
// on a grouped slave. Returns (nil, nil) when the command runs locally.
func (p *Player) routeToMaster(op string) (*Player, error) {
	if p.state.Snapshot().Role != model.RoleSlave {
		return nil, nil
	}
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()
	if g == nil {
		return nil, lperr.New(lperr.ErrInconsistent, op).
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	master := g.Master()
	if master == nil || master == p {
		return nil, lperr.New(lperr.ErrInconsistent, op).
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	return master, nil
}

// Play starts playback of the current queue. On a grouped slave the command
// runs on the master, which drives the whole group.
func (p *Player) Play(ctx context.Context) error {
	if m, err := p.routeToMaster("player.play"); err != nil {
		return err
	} else if m != nil {
		return m.Play(ctx)
	}
	return p.exec(ctx, "player.play", "setPlayerCmd:play",
		model.StatusPatch{PlayState: model.Ptr(model.PlayStatePlay)})
}

// Pause pauses playback; routed to the master on a grouped slave.
func (p *Player) Pause(ctx context.Context) error {
	if m, err := p.routeToMaster("player.pause"); err != nil {
		return err
	} else if m != nil {
		return m.Pause(ctx)
	}
	return p.exec(ctx, "player.pause", "setPlayerCmd:pause",
		model.StatusPatch{PlayState: model.Ptr(model.PlayStatePause)})
}

// Resume continues paused playback; routed to the master on a grouped slave.
func (p *Player) Resume(ctx context.Context) error {
	if m, err := p.routeToMaster("player.resume"); err != nil {
		return err
	} else if m != nil {
		return m.Resume(ctx)
	}
	return p.exec(ctx, "player.resume", "setPlayerCmd:resume",
		model.StatusPatch{PlayState: model.Ptr(model.PlayStatePlay)})
}

// Stop halts playback. Firmware reports the result as "stop", which the
// merged state renders as pause.
func (p *Player) Stop(ctx context.Context) error {
	if m, err := p.routeToMaster("player.stop"); err != nil {
		return err
	} else if m != nil {
		return m.Stop(ctx)
	}
	return p.exec(ctx, "player.stop", "setPlayerCmd:stop",
		model.StatusPatch{PlayState: model.Ptr(model.PlayStatePause)})
}

// PlayPause toggles: paused resumes, playing pauses, anything else starts
// playback.
func (p *Player) PlayPause(ctx context.Context) error {
	switch p.Status().PlayState {
	case model.PlayStatePause:
		return p.Resume(ctx)
	case model.PlayStatePlay:
		return p.Pause(ctx)
	default:
		return p.Play(ctx)
	}
}

// Next skips to the next track; routed to the master on a grouped slave.
// The track fields update on the next poll or event.
func (p *Player) Next(ctx context.Context) error {
	if m, err := p.routeToMaster("player.next"); err != nil {
		return err
	} else if m != nil {
		return m.Next(ctx)
	}
	return p.exec(ctx, "player.next", "setPlayerCmd:next", model.StatusPatch{})
}

// Previous skips back one track; routed to the master on a grouped slave.
func (p *Player) Previous(ctx context.Context) error {
	if m, err := p.routeToMaster("player.previous"); err != nil {
		return err
	} else if m != nil {
		return m.Previous(ctx)
	}
	return p.exec(ctx, "player.previous", "setPlayerCmd:prev", model.StatusPatch{})
}

// Seek jumps to pos, clamped into [0, duration]; routed to the master on a
// grouped slave.
func (p *Player) Seek(ctx context.Context, pos time.Duration) error {
	if m, err := p.routeToMaster("player.seek"); err != nil {
		return err
	} else if m != nil {
		return m.Seek(ctx, pos)
	}
	if pos < 0 {
		pos = 0
	}
	if d := p.Status().Duration; d != nil && pos > *d {
		pos = *d
	}
	return p.exec(ctx, "player.seek",
		fmt.Sprintf("setPlayerCmd:seek:%d", int(pos/time.Second)),
		model.StatusPatch{Position: &pos})
}

// SetVolume sets this device's own volume, clamped to 0..100. Never routed:
// each group member keeps an individual level (see Group.SetVolume for the
// virtual master control).
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	volume = normalize.ClampVolume(volume)
	return p.exec(ctx, "player.set_volume",
		fmt.Sprintf("setPlayerCmd:vol:%d", volume),
		model.StatusPatch{Volume: &volume})
}

// SetMuted mutes or unmutes this device only; mute never propagates through
// a group.
func (p *Player) SetMuted(ctx context.Context, muted bool) error {
	flag := 0
	if muted {
		flag = 1
	}
	return p.exec(ctx, "player.set_muted",
		fmt.Sprintf("setPlayerCmd:mute:%d", flag),
		model.StatusPatch{Muted: &muted})
}

// SetSource switches the physical or streaming input. The name is matched
// leniently ("Line-In", "line in" and "LINE_IN" all select line_in).
func (p *Player) SetSource(ctx context.Context, name string) error {
	src := model.NormalizeSource(name)
	if src == model.SourceNone || !src.Switchable() {
		return lperr.New(lperr.ErrUnsupported, "player.set_source").
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	return p.exec(ctx, "player.set_source",
		"setPlayerCmd:switchmode:"+src.SwitchmodeName(),
		model.StatusPatch{Source: &src})
}

// SetShuffle sets the shuffle half of the loop mode, keeping the current
// repeat mode. Unsupported on live radio and cast sources and on grouped
// slaves.
func (p *Player) SetShuffle(ctx context.Context, shuffle bool) error {
	if err := p.loopModeWritable("player.set_shuffle"); err != nil {
		return err
	}
	snap := p.Status()
	repeat := model.RepeatOff
	if snap.Repeat != nil {
		repeat = *snap.Repeat
	}
	return p.setLoopMode(ctx, "player.set_shuffle", shuffle, repeat)
}

// SetRepeat sets the repeat half of the loop mode, keeping the current
// shuffle flag. Unsupported on live radio and cast sources and on grouped
// slaves.
func (p *Player) SetRepeat(ctx context.Context, repeat model.Repeat) error {
	if err := p.loopModeWritable("player.set_repeat"); err != nil {
		return err
	}
	snap := p.Status()
	shuffle := snap.Shuffle != nil && *snap.Shuffle
	return p.setLoopMode(ctx, "player.set_repeat", shuffle, repeat)
}

func (p *Player) setLoopMode(ctx context.Context, op string, shuffle bool, repeat model.Repeat) error {
	scheme := p.Profile().LoopModeScheme
	raw, exact := profile.EncodeLoopMode(scheme, shuffle, repeat)
	if !exact {
		p.mu.Lock()
		p.logger.Debug().
			Bool("shuffle", shuffle).
			Str("repeat", string(repeat)).
			Int("raw", raw).
			Msg("loop mode combination approximated")
		p.mu.Unlock()
	}
	return p.exec(ctx, op,
		fmt.Sprintf("setPlayerCmd:loopmode:%d", raw),
		model.StatusPatch{
			Shuffle:  &shuffle,
			Repeat:   &repeat,
			LoopMode: &raw,
		})
}

func (p *Player) loopModeWritable(op string) error {
	snap := p.state.Snapshot()
	if snap.Role == model.RoleSlave {
		return lperr.New(lperr.ErrUnsupported, op).
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	if loopModeDenied[snap.Source] {
		return lperr.New(lperr.ErrUnsupported, op).
			WithDevice(p.host, p.DeviceInfo().Model, p.DeviceInfo().Firmware)
	}
	return nil
}
