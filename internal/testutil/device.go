// Package testutil provides a fake LinkPlay device for exercising the
// control plane over real HTTP. The fake answers the firmware's single
// command endpoint with canned JSON, records every command it receives,
// and can be told to fail or answer verbatim per command.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Device is a fake LinkPlay speaker. Zero-value maps are never nil except
// meta, where nil means the device does not implement getMetaInfo.
type Device struct {
	*httptest.Server
	mu       sync.Mutex
	status   map[string]any
	player   map[string]any
	meta     map[string]any
	slaves   []map[string]any
	eqList   []string
	eqStat   map[string]any
	eqBands  []map[string]any
	presets  map[string]any
	btList   map[string]any
	audioOut map[string]any
	alarms   map[int]map[string]any
	shutdown string
	respond  map[string]string // exact command -> verbatim body
	failing  map[string]int    // command prefix -> 500s left before success
	commands []string
}

// NewDevice starts a fake device with WiiM-Pro-like defaults: stopped
// player, volume 42, line-in/bluetooth/optical inputs, no group. Callers
// own Close.
func NewDevice() *Device {
	d := &Device{
		status: map[string]any{
			"uuid":         "FF31F09E1A5B38C5D9FC",
			"DeviceName":   "Living Room",
			"project":      "WiiM Pro",
			"firmware":     "4.8.618660",
			"MAC":          "08:E9:F6:8A:2B:C1",
			"wmrm_version": "4.2",
			"ssid":         "WiiM-Pro-2BC1",
			"WifiChannel":  "11",
			"preset_key":   "12",
			"plm_support":  "0x16",
			"group":        "0",
			"master_uuid":  "",
			"master_ip":    "",
			"slave_num":    "0",
		},
		player: map[string]any{
			"status": "stop",
			"mode":   "0",
			"loop":   "4",
			"curpos": "0",
			"totlen": "0",
			"vol":    "42",
			"mute":   "0",
			"group":  "0",
		},
		meta: map[string]any{
			"title":  "",
			"artist": "",
			"album":  "",
		},
		eqList:  []string{"Flat", "Acoustic", "Bass Booster", "Jazz"},
		eqStat:  map[string]any{"EQStat": "off", "Name": "Flat"},
		eqBands: []map[string]any{
			{"index": "0", "param_name": "31.5Hz", "value": "0"},
			{"index": "1", "param_name": "125Hz", "value": "0"},
			{"index": "2", "param_name": "500Hz", "value": "0"},
		},
		presets: map[string]any{
			"preset_num": "2",
			"preset_list": []map[string]any{
				{"number": "1", "name": "Morning Radio", "url": "http://stream.example.com/morning"},
				{"number": "2", "name": "Jazz24", "url": "http://stream.example.com/jazz24"},
			},
		},
		btList:   map[string]any{"num": "0", "list": []map[string]any{}},
		audioOut: map[string]any{"hardware": "2", "source": "0"},
		alarms:   map[int]map[string]any{},
		shutdown: "0",
		respond:  map[string]string{},
		failing:  map[string]int{},
	}
	d.Server = httptest.NewServer(http.HandlerFunc(d.handle))
	return d
}

// Host returns the address a Player should dial.
func (d *Device) Host() string {
	u, _ := url.Parse(d.URL)
	return u.Hostname()
}

// Port returns the listener port for pinning the transport.
func (d *Device) Port() int {
	u, _ := url.Parse(d.URL)
	port, _ := strconv.Atoi(u.Port())
	return port
}

// Commands returns every command received so far, in arrival order.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}

// CommandCount counts received commands matching prefix.
func (d *Device) CommandCount(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, cmd := range d.commands {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

// ClearCommands drops the recorded command log.
func (d *Device) ClearCommands() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = nil
}

// SetStatusField updates one getStatusEx field.
func (d *Device) SetStatusField(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status[key] = value
}

// SetPlayerField updates one player status field.
func (d *Device) SetPlayerField(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.player[key] = value
}

// SetMeta replaces the getMetaInfo payload. Nil marks the endpoint
// unsupported, which the firmware signals with a status:Failed body.
func (d *Device) SetMeta(meta map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta = meta
}

// SetSlaves replaces the multiroom slave list and keeps slave_num in the
// device status consistent with it.
func (d *Device) SetSlaves(slaves ...map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slaves = slaves
	d.status["slave_num"] = strconv.Itoa(len(slaves))
}

// SetEQList replaces the EQ preset names.
func (d *Device) SetEQList(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eqList = names
}

// SetAlarm installs a canned getAlarmClock body for one slot.
func (d *Device) SetAlarm(slot int, alarm map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alarms[slot] = alarm
}

// RespondWith makes the device answer command with body verbatim,
// bypassing the canned data. Exact match only.
func (d *Device) RespondWith(command, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.respond[command] = body
}

// FailN makes the next n commands matching prefix answer HTTP 500.
func (d *Device) FailN(prefix string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing[prefix] = n
}

func (d *Device) handle(w http.ResponseWriter, r *http.Request) {
	// The transport appends the command verbatim after "command=".
	cmd := strings.TrimPrefix(r.URL.RawQuery, "command=")

	d.mu.Lock()
	d.commands = append(d.commands, cmd)

	fail := false
	for prefix, n := range d.failing {
		if n > 0 && strings.HasPrefix(cmd, prefix) {
			d.failing[prefix] = n - 1
			fail = true
			break
		}
	}

	var body string
	if !fail {
		if canned, ok := d.respond[cmd]; ok {
			body = canned
		} else {
			body = d.dispatchLocked(cmd)
		}
	}
	d.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(body))
}

// dispatchLocked answers cmd from the canned data and applies the side
// effects real firmware would. Callers hold d.mu.
func (d *Device) dispatchLocked(cmd string) string {
	switch {
	case cmd == "getStatusEx" || cmd == "getStatus":
		return jsonBody(d.status)
	case cmd == "getPlayerStatusEx" || cmd == "getPlayerStatus":
		return jsonBody(d.player)
	case cmd == "getMetaInfo":
		if d.meta == nil {
			return `{"status":"Failed"}`
		}
		return jsonBody(map[string]any{"metaData": d.meta})
	case cmd == "multiroom:getSlaveList":
		slaves := d.slaves
		if slaves == nil {
			slaves = []map[string]any{}
		}
		return jsonBody(map[string]any{"slaves": len(slaves), "slave_list": slaves})
	case cmd == "EQGetList":
		return jsonBody(d.eqList)
	case cmd == "EQGetStat":
		return jsonBody(d.eqStat)
	case cmd == "getPresetInfo":
		return jsonBody(d.presets)
	case cmd == "getNewAudioOutputHardwareMode":
		return jsonBody(d.audioOut)
	case cmd == "getbthistory":
		return jsonBody(d.btList)
	case strings.HasPrefix(cmd, "getAlarmClock:"):
		slot, _ := strconv.Atoi(strings.TrimPrefix(cmd, "getAlarmClock:"))
		if alarm, ok := d.alarms[slot]; ok {
			return jsonBody(alarm)
		}
		return `{"enable":"0"}`
	case cmd == "getShutdown":
		return d.shutdown

	case cmd == "setPlayerCmd:play":
		d.player["status"] = "play"
		return "OK"
	case strings.HasPrefix(cmd, "setPlayerCmd:play:"):
		d.player["status"] = "play"
		return "OK"
	case cmd == "setPlayerCmd:pause" || cmd == "setPlayerCmd:stop":
		d.player["status"] = "pause"
		return "OK"
	case cmd == "setPlayerCmd:resume":
		d.player["status"] = "play"
		return "OK"
	case strings.HasPrefix(cmd, "setPlayerCmd:seek:"):
		if secs, err := strconv.Atoi(strings.TrimPrefix(cmd, "setPlayerCmd:seek:")); err == nil {
			d.player["curpos"] = strconv.Itoa(secs * 1000)
		}
		return "OK"
	case strings.HasPrefix(cmd, "setPlayerCmd:vol:"):
		d.player["vol"] = strings.TrimPrefix(cmd, "setPlayerCmd:vol:")
		return "OK"
	case strings.HasPrefix(cmd, "setPlayerCmd:mute:"):
		d.player["mute"] = strings.TrimPrefix(cmd, "setPlayerCmd:mute:")
		return "OK"
	case strings.HasPrefix(cmd, "setPlayerCmd:loopmode:"):
		d.player["loop"] = strings.TrimPrefix(cmd, "setPlayerCmd:loopmode:")
		return "OK"
	case strings.HasPrefix(cmd, "setPlayerCmd:switchmode:"):
		// Mode switches are acknowledged with an empty body.
		return ""
	case strings.HasPrefix(cmd, "setPlayerCmd:"):
		return "OK"

	case cmd == "EQOn":
		d.eqStat["EQStat"] = "on"
		return "OK"
	case cmd == "EQOff":
		d.eqStat["EQStat"] = "off"
		return "OK"
	case strings.HasPrefix(cmd, "EQLoad:"):
		d.eqStat["EQStat"] = "on"
		d.eqStat["Name"] = strings.TrimPrefix(cmd, "EQLoad:")
		return "OK"
	case cmd == "EQGetBand":
		return jsonBody(map[string]any{"EQBand": d.eqBands})
	case strings.HasPrefix(cmd, "EQSetBand:"):
		parts := strings.Split(strings.TrimPrefix(cmd, "EQSetBand:"), ":")
		if len(parts) == 2 {
			idx, _ := strconv.Atoi(parts[0])
			if idx >= 0 && idx < len(d.eqBands) {
				d.eqBands[idx]["value"] = parts[1]
			}
		}
		return "OK"

	case strings.HasPrefix(cmd, "setDeviceName:"):
		d.status["DeviceName"] = strings.TrimPrefix(cmd, "setDeviceName:")
		return "OK"
	case strings.HasPrefix(cmd, "setAudioOutputHardwareMode:"):
		d.audioOut["hardware"] = strings.TrimPrefix(cmd, "setAudioOutputHardwareMode:")
		return "OK"
	case strings.HasPrefix(cmd, "setShutdown:"):
		d.shutdown = strings.TrimPrefix(cmd, "setShutdown:")
		return "OK"

	case cmd == "setMultiroom:Master",
		cmd == "multiroom:Ungroup",
		strings.HasPrefix(cmd, "multiroom:SlaveKickout:"),
		strings.HasPrefix(cmd, "ConnectMasterAp:"),
		strings.HasPrefix(cmd, "MCUKeyShortClick:"),
		strings.HasPrefix(cmd, "setAlarmClock:"),
		strings.HasPrefix(cmd, "playPromptUrl:"),
		strings.HasPrefix(cmd, "LED_SWITCH_SET:"),
		strings.HasPrefix(cmd, "LED_BRIGHTNESS_SET:"),
		cmd == "reboot":
		return "OK"
	}
	return "unknown command"
}

func jsonBody(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"status":"Failed"}`
	}
	return string(b)
}
