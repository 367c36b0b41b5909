package linkplay

import (
	"context"
	"time"

	"github.com/linkplay-community/linkplay-go/internal/log"
	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
	"github.com/linkplay-community/linkplay-go/pkg/normalize"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
	"github.com/linkplay-community/linkplay-go/pkg/transport"
)

// Refresh synchronizes the merged state with the device. The first call is
// implicitly full: it identifies the device, resolves its profile, and
// fetches the rarely-changing extras. Later calls poll the status and group
// endpoints, re-read metadata on track changes, and re-read the extras at
// most once a minute. The state callback fires at most once per refresh,
// with every field the refresh changed.
//
// A failed refresh changes nothing and fires no callback.
func (p *Player) Refresh(ctx context.Context) error {
	return p.refresh(ctx, false)
}

// RefreshFull forces the full path: device identity, profile resolution, and
// all extras. Use after firmware updates or renames.
func (p *Player) RefreshFull(ctx context.Context) error {
	return p.refresh(ctx, true)
}

func (p *Player) refresh(ctx context.Context, force bool) error {
	ctx, cancel := p.opCtx(ctx, time.Duration(refreshBudget)*p.timeout)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return lperr.New(lperr.ErrPrecondition, "player.refresh").WithDevice(p.host, "", "")
	}
	changed, err := p.refreshLocked(ctx, force)
	group := p.group
	p.mu.Unlock()
	if err != nil {
		return err
	}

	p.maybeStartEventing(ctx)
	p.notify(changed)

	// Master refreshes push the playback fields to grouped slaves so their
	// snapshots mirror what the group is playing.
	if group != nil && p.state.Snapshot().Role == model.RoleMaster {
		group.propagate(p)
	}
	return nil
}

func (p *Player) refreshLocked(ctx context.Context, force bool) ([]model.Field, error) {
	full := force || !p.refreshed
	acc := make(map[model.Field]struct{})

	var groupInfo model.GroupInfo
	haveGroup := false
	if full {
		gi, err := p.refreshDeviceLocked(ctx)
		if err != nil {
			return nil, err
		}
		groupInfo, haveGroup = gi, true
	}

	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.prof, transport.EndpointPlayerStatus))
	if err != nil {
		return nil, err
	}
	patch, err := normalize.ParsePlayerStatus(body, p.prof.LoopModeScheme)
	if err != nil {
		return nil, err
	}
	statusChanged := p.state.UpdateFromHTTP(patch)
	mergeChanged(acc, statusChanged)
	if sub := p.subscriber; sub != nil {
		sub.Health().RecordPollChanges(statusChanged)
	}

	if !haveGroup {
		gi, err := p.refreshDeviceLocked(ctx)
		if err != nil {
			return nil, err
		}
		groupInfo = gi
	}
	mergeChanged(acc, p.applyRoleLocked(ctx, groupInfo, patch))

	if track := p.trackSignal(patch); track != p.lastTrack {
		p.lastTrack = track
		if track != "" {
			p.refreshTrackLocked(ctx, acc)
		}
	}

	if full || p.now().Sub(p.lastExtras) >= extrasInterval {
		p.refreshExtrasLocked(ctx, full, acc)
		p.lastExtras = p.now()
	}

	p.refreshed = true
	changed := changedList(acc)
	p.logTransitionsLocked(changed)
	return changed, nil
}

// refreshDeviceLocked re-reads the identity endpoint, resolves the profile,
// and returns the device's own group view.
func (p *Player) refreshDeviceLocked(ctx context.Context) (model.GroupInfo, error) {
	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.prof, transport.EndpointDeviceInfo))
	if err != nil {
		return model.GroupInfo{}, err
	}
	info, groupInfo, err := normalize.ParseDeviceInfo(body)
	if err != nil {
		return model.GroupInfo{}, err
	}

	// Older firmware omits the slave counter; keep the cached indicator
	// until a slave-list fetch settles it.
	if !info.HasSlaves {
		info.HasSlaves = p.info.HasSlaves
	}
	firstContact := p.info.UUID == "" && info.UUID != ""

	if !p.pinnedProfile {
		p.prof = profile.Resolve(info)
		p.state.SetProfile(p.prof)
	}
	info.Vendor = p.prof.Vendor
	info.Generation = p.prof.Generation
	p.info = info

	p.client.SetDeviceContext(info.Model, info.Firmware)
	p.logger = log.Device(log.WithComponent("player"), p.host, info.Model, info.Firmware)
	if firstContact {
		p.logger.Info().
			Str("name", info.Name).
			Str("uuid", info.UUID).
			Str("profile", p.prof.Name).
			Msg("device identified")
	}
	return groupInfo, nil
}

// applyRoleLocked derives the multiroom role from the device's own group
// view, fetching the authoritative slave list only when an indicator
// suggests the device masters a group.
func (p *Player) applyRoleLocked(ctx context.Context, gi model.GroupInfo, status model.StatusPatch) []model.Field {
	role := model.RoleSolo
	patch := model.StatusPatch{}

	grouped := gi.GroupID != "" && gi.GroupID != "0"
	if grouped && gi.MasterUUID != "" && gi.MasterUUID != p.info.UUID {
		role = model.RoleSlave
		patch.GroupID = &gi.GroupID
		patch.MasterUUID = &gi.MasterUUID
		patch.MasterIP = &gi.MasterIP
		p.slaves = nil
		p.info.HasSlaves = false
	} else {
		slaves := gi.Slaves
		if slaves == nil && p.shouldFetchSlaveListLocked(gi, status) {
			slaves = p.fetchSlaveListLocked(ctx)
		}
		p.slaves = slaves
		p.info.HasSlaves = len(slaves) > 0
		if len(slaves) > 0 {
			role = model.RoleMaster
		}
		gid := gi.GroupID
		if gid == "" {
			gid = "0"
		}
		none := ""
		patch.GroupID = &gid
		patch.MasterUUID = &none
		patch.MasterIP = &none
	}
	patch.Role = &role
	if role != model.RoleSlave {
		p.masterName = ""
	}
	return p.state.UpdateFromHTTP(patch)
}

// shouldFetchSlaveListLocked implements the role-detection shortcut: the
// slave-list endpoint is slow on some firmware, so it is skipped when
// nothing indicates a group (the common solo steady state).
func (p *Player) shouldFetchSlaveListLocked(gi model.GroupInfo, status model.StatusPatch) bool {
	if !transport.Supported(p.prof, transport.EndpointSlaveList) {
		return false
	}
	if p.info.HasSlaves {
		return true
	}
	if status.Source != nil && *status.Source == model.SourceMultiroom {
		return true
	}
	return gi.GroupID != "" && gi.GroupID != "0"
}

// fetchSlaveListLocked returns nil on any failure; role detection then falls
// back to solo rather than failing the whole refresh.
func (p *Player) fetchSlaveListLocked(ctx context.Context) []model.SlaveInfo {
	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.prof, transport.EndpointSlaveList))
	if err != nil {
		p.logger.Warn().Err(err).Msg("slave list fetch failed")
		return nil
	}
	slaves, err := normalize.ParseSlaveList(body)
	if err != nil {
		p.logger.Warn().Err(err).Msg("slave list parse failed")
		return nil
	}
	return slaves
}

// trackSignal extracts the track identity tuple for change detection,
// preferring what the status payload itself carried so a richer metadata
// answer does not retrigger the fetch every poll.
func (p *Player) trackSignal(patch model.StatusPatch) string {
	if patch.Title != nil || patch.Artist != nil {
		var title, artist string
		if patch.Title != nil {
			title = *patch.Title
		}
		if patch.Artist != nil {
			artist = *patch.Artist
		}
		if title == "" && artist == "" {
			return ""
		}
		return title + "\x00" + artist
	}
	snap := p.state.Snapshot()
	if snap.Title == "" && snap.Artist == "" {
		return ""
	}
	return snap.TrackID()
}

// refreshTrackLocked runs the per-track fetches: richer metadata, current EQ
// preset, and the preset station list.
func (p *Player) refreshTrackLocked(ctx context.Context, acc map[model.Field]struct{}) {
	p.fetchMetadataLocked(ctx, acc)
	p.fetchEQStatusLocked(ctx, acc)
	p.fetchPresetsLocked(ctx)
}

// refreshExtrasLocked runs the slow-lane fetches. Metadata is included so
// devices whose status payload carries no track tags still surface them
// within the extras cadence even without eventing. All failures here degrade
// the extras, never the refresh.
func (p *Player) refreshExtrasLocked(ctx context.Context, full bool, acc map[model.Field]struct{}) {
	p.fetchMetadataLocked(ctx, acc)
	p.fetchEQListLocked(ctx)
	p.fetchEQStatusLocked(ctx, acc)
	p.fetchPresetsLocked(ctx)
	p.fetchBluetoothLocked(ctx)
	if full {
		p.fetchAudioOutputLocked(ctx)
	}
}

func (p *Player) fetchMetadataLocked(ctx context.Context, acc map[model.Field]struct{}) {
	if p.metaSupported != nil && !*p.metaSupported {
		return
	}
	if !transport.Supported(p.prof, transport.EndpointMetadata) {
		return
	}
	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.prof, transport.EndpointMetadata))
	if err != nil {
		p.logger.Warn().Err(err).Msg("metadata fetch failed")
		return
	}
	patch, supported, err := normalize.ParseMetaInfo(body)
	if err != nil {
		p.logger.Warn().Err(err).Msg("metadata parse failed")
		return
	}
	if !supported {
		p.metaSupported = model.Ptr(false)
		p.logger.Info().Msg("metadata endpoint unsupported, using status fields")
		return
	}
	if p.metaSupported == nil {
		p.metaSupported = model.Ptr(true)
	}
	mergeChanged(acc, p.state.UpdateFromHTTP(patch))
}

func (p *Player) fetchEQStatusLocked(ctx context.Context, acc map[model.Field]struct{}) {
	if !transport.Supported(p.prof, transport.EndpointEQStatus) {
		return
	}
	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.prof, transport.EndpointEQStatus))
	if err != nil {
		p.logger.Debug().Err(err).Msg("eq status fetch failed")
		return
	}
	enabled, name, err := normalize.ParseEQStatus(body)
	if err != nil {
		p.logger.Debug().Err(err).Msg("eq status parse failed")
		return
	}
	if !enabled {
		name = ""
	}
	mergeChanged(acc, p.state.UpdateFromHTTP(model.StatusPatch{EQPreset: &name}))
}

func (p *Player) fetchEQListLocked(ctx context.Context) {
	if !transport.Supported(p.prof, transport.EndpointEQList) {
		return
	}
	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.prof, transport.EndpointEQList))
	if err != nil {
		p.logger.Debug().Err(err).Msg("eq list fetch failed")
		return
	}
	names, err := normalize.ParseEQList(body)
	if err != nil {
		p.logger.Debug().Err(err).Msg("eq list parse failed")
		return
	}
	p.eqPresets = names
}

func (p *Player) fetchPresetsLocked(ctx context.Context) {
	if !transport.Supported(p.prof, transport.EndpointPresets) {
		return
	}
	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.prof, transport.EndpointPresets))
	if err != nil {
		p.logger.Debug().Err(err).Msg("preset fetch failed")
		return
	}
	presets, err := normalize.ParsePresets(body)
	if err != nil {
		p.logger.Debug().Err(err).Msg("preset parse failed")
		return
	}
	p.presets = presets
}

func (p *Player) fetchBluetoothLocked(ctx context.Context) {
	if !transport.Supported(p.prof, transport.EndpointBluetoothHistory) {
		return
	}
	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.prof, transport.EndpointBluetoothHistory))
	if err != nil {
		p.logger.Debug().Err(err).Msg("bluetooth history fetch failed")
		return
	}
	history, err := normalize.ParseBluetoothHistory(body)
	if err != nil {
		p.logger.Debug().Err(err).Msg("bluetooth history parse failed")
		return
	}
	p.btHistory = history
}

func (p *Player) fetchAudioOutputLocked(ctx context.Context) {
	if !transport.Supported(p.prof, transport.EndpointAudioOutput) {
		return
	}
	body, _, err := p.client.ExecuteChain(ctx, transport.Chain(p.prof, transport.EndpointAudioOutput))
	if err != nil {
		p.logger.Debug().Err(err).Msg("audio output fetch failed")
		return
	}
	out, err := normalize.ParseAudioOutput(body)
	if err != nil {
		p.logger.Debug().Err(err).Msg("audio output parse failed")
		return
	}
	p.audioOutput = &out
}

// logTransitionsLocked emits one INFO line when the refresh moved the
// playback state or role; routine polls stay silent.
func (p *Player) logTransitionsLocked(changed []model.Field) {
	for _, f := range changed {
		if f != model.FieldPlayState && f != model.FieldRole {
			continue
		}
		snap := p.state.Snapshot()
		p.logger.Info().
			Str("play_state", string(snap.PlayState)).
			Str("role", string(snap.Role)).
			Msg("state transition")
		return
	}
}
