package monitoring

import (
	"fmt"
	"io"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
)

const statsViewPath = "/debug/statsview"

// LaunchStatsView starts the runtime statistics viewer on addr in the
// background and returns a function that stops it.
func LaunchStatsView(addr string, output io.Writer) (stop func()) {
	viewer.SetConfiguration(viewer.WithAddr(addr))
	mgr := statsview.New()

	go mgr.Start()

	fmt.Fprintf(output, "stats server available at %s%s\n", addr, statsViewPath)

	return mgr.Stop
}
