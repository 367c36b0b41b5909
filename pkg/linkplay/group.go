package linkplay

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
	"github.com/linkplay-community/linkplay-go/pkg/normalize"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
)

// groupFanout bounds concurrent member commands during group-wide volume and
// mute operations.
const groupFanout = 4

// Group links one master Player with the slaves playing its stream. The
// devices are the source of truth for roles; the Group object adds what the
// devices cannot know: which *Player handles belong together, so slave
// commands can route to the master and master refreshes can propagate
// metadata. Build groups with Join, or with LinkGroups over devices that
// were already grouped when discovered.
type Group struct {
	mu     sync.Mutex
	master *Player
	slaves []*Player
}

// Master returns the leading player, nil after the group was disbanded.
func (g *Group) Master() *Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.master
}

// Slaves returns the linked slave players.
func (g *Group) Slaves() []*Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Player(nil), g.slaves...)
}

// Players returns all members, master first.
func (g *Group) Players() []*Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Player, 0, len(g.slaves)+1)
	if g.master != nil {
		out = append(out, g.master)
	}
	return append(out, g.slaves...)
}

func (g *Group) addSlave(p *Player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.slaves {
		if s == p {
			return
		}
	}
	g.slaves = append(g.slaves, p)
}

// removeSlave returns how many slaves remain.
func (g *Group) removeSlave(p *Player) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.slaves[:0]
	for _, s := range g.slaves {
		if s != p {
			kept = append(kept, s)
		}
	}
	g.slaves = kept
	return len(kept)
}

// reset empties the group after a disband and returns the prior slaves.
func (g *Group) reset() []*Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	prior := g.slaves
	g.slaves = nil
	g.master = nil
	return prior
}

func (p *Player) setGroupLink(g *Group, masterName string) {
	p.mu.Lock()
	p.group = g
	p.masterName = masterName
	p.mu.Unlock()
}

func (p *Player) clearGroupLink() {
	p.mu.Lock()
	p.group = nil
	p.masterName = ""
	p.mu.Unlock()
}

func soloPatch() model.StatusPatch {
	role := model.RoleSolo
	gid := "0"
	none := ""
	return model.StatusPatch{
		Role:       &role,
		GroupID:    &gid,
		MasterUUID: &none,
		MasterIP:   &none,
	}
}

// CreateGroup declares this player a multiroom master. Idempotent when the
// player already leads a linked group; a grouped slave leaves its group
// first. The device stays effectively solo until a slave joins.
func (p *Player) CreateGroup(ctx context.Context) (*Group, error) {
	if g := p.Group(); g != nil && g.Master() == p {
		return g, nil
	}
	if p.state.Snapshot().Role == model.RoleSlave {
		if err := p.LeaveGroup(ctx); err != nil {
			return nil, err
		}
	}
	if err := p.exec(ctx, "group.create", "setMultiroom:Master", model.StatusPatch{}); err != nil {
		return nil, err
	}
	g := &Group{master: p}
	p.setGroupLink(g, "")
	return g, nil
}

// Join adds slave to master's group, resolving whatever grouping state both
// devices are in first: a slave that leads its own group disbands it, a
// slave of another master leaves, a master that is itself grouped as a slave
// leaves, and a solo master is promoted. The join command runs on the slave
// device using its own protocol and port.
//
// Devices whose multiroom protocol majors differ cannot stream to each
// other; Join refuses such pairs before touching either device.
func Join(ctx context.Context, slave, master *Player) (*Group, error) {
	const op = "group.join"
	if slave == nil || master == nil || slave == master {
		return nil, lperr.New(lperr.ErrPrecondition, op)
	}
	if !profile.CompatibleForGrouping(slave.DeviceInfo(), master.DeviceInfo()) {
		return nil, lperr.New(lperr.ErrInconsistent, op).
			WithDevice(slave.Host(), slave.DeviceInfo().Model, slave.DeviceInfo().Firmware)
	}

	ctx, cancel := slave.opCtx(ctx, time.Duration(refreshBudget)*slave.timeout)
	defer cancel()

	if slave.state.Snapshot().Role != model.RoleSolo {
		if err := slave.LeaveGroup(ctx); err != nil {
			return nil, err
		}
	}
	if master.state.Snapshot().Role == model.RoleSlave {
		if err := master.LeaveGroup(ctx); err != nil {
			return nil, err
		}
	}
	g := master.Group()
	if g == nil || g.Master() != master {
		var err error
		if g, err = master.CreateGroup(ctx); err != nil {
			return nil, err
		}
	}

	cmd := joinCommand(ctx, slave, master)
	patch := model.StatusPatch{
		Role:       model.Ptr(model.RoleSlave),
		GroupID:    model.Ptr("1"),
		MasterUUID: model.Ptr(master.UUID()),
		MasterIP:   model.Ptr(master.Host()),
	}
	if err := slave.exec(ctx, op, cmd, patch); err != nil {
		return nil, err
	}

	g.addSlave(slave)
	slave.setGroupLink(g, master.Name())
	master.notify(master.state.UpdateFromHTTP(
		model.StatusPatch{Role: model.Ptr(model.RoleMaster)}))
	return g, nil
}

// Add is Join with the receiver's master.
func (g *Group) Add(ctx context.Context, slave *Player) error {
	master := g.Master()
	if master == nil {
		return lperr.New(lperr.ErrInconsistent, "group.add")
	}
	_, err := Join(ctx, slave, master)
	return err
}

// joinCommand picks the join form for the slave's hardware generation.
// First-generation modules join the master's own access point and need its
// SSID and channel; everything newer joins over the LAN.
func joinCommand(ctx context.Context, slave, master *Player) string {
	if slave.Profile().Grouping.UsesWiFiDirect {
		ssid, channel := master.accessPoint(ctx)
		if ssid != "" {
			return fmt.Sprintf("ConnectMasterAp:ssid=%s:ch=%d:auth=OPEN:encry=NONE:pwd=:chext=0",
				strings.ToUpper(hex.EncodeToString([]byte(ssid))), channel)
		}
		slave.mu.Lock()
		slave.logger.Warn().Str("master", master.Host()).
			Msg("master access point unknown, joining over the router")
		slave.mu.Unlock()
	}
	return fmt.Sprintf("ConnectMasterAp:JoinGroupMaster:eth%s:wifi0.0.0.0", master.Host())
}

// accessPoint returns the device's own AP parameters, re-reading the
// identity endpoint when the cached SSID is empty.
func (p *Player) accessPoint(ctx context.Context) (string, int) {
	p.mu.Lock()
	ssid, channel := p.info.SSID, p.info.WifiChannel
	if ssid == "" {
		if _, err := p.refreshDeviceLocked(ctx); err == nil {
			ssid, channel = p.info.SSID, p.info.WifiChannel
		}
	}
	p.mu.Unlock()
	return ssid, channel
}

// LeaveGroup removes this player from its group. Solo players return
// immediately without device traffic; a master disbands its whole group; a
// slave is kicked from the master side when the group is linked, otherwise
// it ungroups itself.
func (p *Player) LeaveGroup(ctx context.Context) error {
	switch p.state.Snapshot().Role {
	case model.RoleSolo:
		return nil
	case model.RoleMaster:
		return p.disbandGroup(ctx)
	default:
		return p.leaveAsSlave(ctx)
	}
}

func (p *Player) disbandGroup(ctx context.Context) error {
	if err := p.exec(ctx, "group.disband", "multiroom:Ungroup", soloPatch()); err != nil {
		return err
	}
	g := p.Group()
	p.clearGroupLink()
	if g == nil {
		return nil
	}
	for _, slave := range g.reset() {
		slave.clearGroupLink()
		slave.notify(slave.state.UpdateFromHTTP(soloPatch()))
	}
	p.logGroupChange("group disbanded")
	return nil
}

func (p *Player) leaveAsSlave(ctx context.Context) error {
	g := p.Group()
	var master *Player
	if g != nil {
		master = g.Master()
	}

	if master != nil && master != p {
		if err := master.exec(ctx, "group.leave", "multiroom:SlaveKickout:"+p.host,
			model.StatusPatch{}); err != nil {
			return err
		}
		remaining := g.removeSlave(p)
		p.clearGroupLink()
		p.notify(p.state.UpdateFromHTTP(soloPatch()))
		if remaining == 0 {
			master.clearGroupLink()
			master.notify(master.state.UpdateFromHTTP(soloPatch()))
		}
		p.logGroupChange("left group")
		return nil
	}

	// No linked master to kick from; tell the device itself.
	if err := p.exec(ctx, "group.leave", "multiroom:Ungroup", soloPatch()); err != nil {
		return err
	}
	if g != nil {
		g.removeSlave(p)
	}
	p.clearGroupLink()
	p.logGroupChange("left group")
	return nil
}

func (p *Player) logGroupChange(msg string) {
	p.mu.Lock()
	p.logger.Info().Msg(msg)
	p.mu.Unlock()
}

// propagate mirrors the master's playback fields onto every slave snapshot
// after a successful master refresh. Volume, mute and source stay per
// device. Runs on the master's refreshing task; each slave's callback fires
// from here when its snapshot actually changed.
func (g *Group) propagate(master *Player) {
	snap := master.Status()
	name := master.Name()
	patch := model.StatusPatch{
		Title:      &snap.Title,
		Artist:     &snap.Artist,
		Album:      &snap.Album,
		ImageURL:   &snap.ImageURL,
		PlayState:  &snap.PlayState,
		Position:   snap.Position,
		Duration:   snap.Duration,
		SampleRate: snap.SampleRate,
		BitDepth:   snap.BitDepth,
		BitRate:    snap.BitRate,
	}
	for _, slave := range g.Slaves() {
		if slave == master {
			continue
		}
		slave.applyPropagated(patch, name)
	}
}

func (p *Player) applyPropagated(patch model.StatusPatch, masterName string) {
	p.mu.Lock()
	p.masterName = masterName
	p.mu.Unlock()
	p.notify(p.state.UpdatePropagated(patch))
}

// Volume returns the virtual master volume: the loudest member.
func (g *Group) Volume() int {
	loudest := 0
	for _, member := range g.Players() {
		if v := member.Status().Volume; v > loudest {
			loudest = v
		}
	}
	return loudest
}

// SetVolume moves the virtual master volume to target, shifting every
// member by the same delta so their balance is preserved, clamped to
// 0..100 per member. When every member sits at zero the balance carries no
// information and all members jump to target.
func (g *Group) SetVolume(ctx context.Context, target int) error {
	target = normalize.ClampVolume(target)
	members := g.Players()
	if len(members) == 0 {
		return nil
	}

	current := make([]int, len(members))
	loudest := 0
	for i, member := range members {
		current[i] = member.Status().Volume
		if current[i] > loudest {
			loudest = current[i]
		}
	}

	var eg errgroup.Group
	eg.SetLimit(groupFanout)
	for i, member := range members {
		vol := target
		if loudest > 0 {
			vol = normalize.ClampVolume(current[i] + target - loudest)
		}
		eg.Go(func() error {
			return member.SetVolume(ctx, vol)
		})
	}
	return eg.Wait()
}

// SetMuted mutes or unmutes every member. Group mute is always explicit;
// muting the master alone never spreads.
func (g *Group) SetMuted(ctx context.Context, muted bool) error {
	var eg errgroup.Group
	eg.SetLimit(groupFanout)
	for _, member := range g.Players() {
		eg.Go(func() error {
			return member.SetMuted(ctx, muted)
		})
	}
	return eg.Wait()
}

// LinkGroups rebuilds group links from the refreshed snapshots of players,
// for fleets that were already grouped when the process started. Slaves are
// matched to masters by the master id their device reports; slaves whose
// master is not in players stay unlinked and their transport commands fail
// as inconsistent until it appears.
func LinkGroups(players ...*Player) []*Group {
	byUUID := make(map[string]*Player, len(players))
	for _, p := range players {
		if id := p.UUID(); id != "" {
			byUUID[id] = p
		}
	}

	var groups []*Group
	for _, p := range players {
		switch p.Role() {
		case model.RoleMaster:
			g := p.Group()
			if g == nil || g.Master() != p {
				g = &Group{master: p}
				p.setGroupLink(g, "")
			}
			groups = append(groups, g)
		case model.RoleSolo:
			if g := p.Group(); g != nil {
				g.removeSlave(p)
			}
			p.clearGroupLink()
		}
	}

	for _, p := range players {
		if p.Role() != model.RoleSlave {
			continue
		}
		master := byUUID[p.Status().MasterUUID]
		if master == nil {
			if g := p.Group(); g != nil {
				g.removeSlave(p)
			}
			p.clearGroupLink()
			continue
		}
		g := master.Group()
		if g == nil {
			g = &Group{master: master}
			master.setGroupLink(g, "")
			groups = append(groups, g)
		}
		if old := p.Group(); old != nil && old != g {
			old.removeSlave(p)
		}
		g.addSlave(p)
		p.setGroupLink(g, master.Name())
	}
	return groups
}
