package instance

import (
	"net/http"
	"time"

	"dominicbreuker/gamenet/pkg/listen"

	"github.com/gin-gonic/gin"
)

// Info is the document served on /info.json.
type Info struct {
	Hostname     string                `json:"hostname"`
	Uptime       string                `json:"uptime"`
	Sessions     int                   `json:"sessions"`
	FloodDropped uint64                `json:"flood_dropped"`
	Tick         TickInfo              `json:"tick"`
	Endpoints    []listen.EndpointInfo `json:"endpoints"`
}

// TickInfo reports the run loop state.
type TickInfo struct {
	FPS         int    `json:"fps"`
	FrameTimeMS int64  `json:"frame_time_ms"`
	Ticks       uint64 `json:"ticks"`
	DroppedMS   int64  `json:"dropped_ms"`
	MaxCatchUp  int    `json:"max_catch_up"`
	// Queued counts network callbacks waiting for the tick goroutine.
	Queued int `json:"queued"`
}

// Info returns a snapshot of the instance state. Safe from any goroutine.
func (i *Instance) Info() Info {
	var uptime time.Duration
	if !i.started.IsZero() {
		uptime = time.Since(i.started).Truncate(time.Second)
	}

	var floodDropped uint64
	if i.flood != nil {
		floodDropped = i.flood.Dropped()
	}

	return Info{
		Hostname:     i.cfg.UDP.Hostname,
		Uptime:       uptime.String(),
		Sessions:     i.hub.Count(),
		FloodDropped: floodDropped,
		Tick: TickInfo{
			FPS:         i.cfg.Tick.FPS,
			FrameTimeMS: i.loop.FrameTime().Milliseconds(),
			Ticks:       i.loop.Ticks(),
			DroppedMS:   i.loop.Dropped().Milliseconds(),
			MaxCatchUp:  i.cfg.Tick.MaxCatchUp,
			Queued:      i.queue.Len(),
		},
		Endpoints: i.manager.Endpoints(),
	}
}

func (i *Instance) serveInfo(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, i.Info())
}
