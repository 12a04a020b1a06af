package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fitglue/workoutsync/pkg/domain/activity"
	"github.com/fitglue/workoutsync/pkg/domain/fit_parser"
	"github.com/fitglue/workoutsync/pkg/types"
)

func main() {
	inputPath := flag.String("input", "", "Path to FIT file")
	limit := flag.Int("limit", 0, "Print at most this many timeline rows (0 = all)")
	flag.Parse()

	if *inputPath == "" {
		fmt.Println("Please provide input file with -input")
		os.Exit(1)
	}

	data, err := os.ReadFile(*inputPath)
	if err != nil {
		fmt.Printf("Failed to read file: %v\n", err)
		os.Exit(1)
	}

	workout, err := normalizeFit(data, strings.TrimSuffix(filepath.Base(*inputPath), filepath.Ext(*inputPath)))
	if err != nil {
		fmt.Printf("Failed to decode FIT file: %v\n", err)
		os.Exit(1)
	}

	printSummary(os.Stdout, workout)
	printTimeline(os.Stdout, workout.Timeline, *limit)
}

func normalizeFit(data []byte, name string) (types.NormalizedWorkout, error) {
	act, err := fit_parser.ParseFitFile(data)
	if err != nil {
		return types.NormalizedWorkout{}, err
	}
	return activity.Normalize(act.Raw(types.ProviderPolar, name))
}

func printSummary(out io.Writer, w types.NormalizedWorkout) {
	fmt.Fprintln(out, "=== WORKOUT ===")
	sw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(sw, "Type\t%s\n", w.ActivityType)
	fmt.Fprintf(sw, "Start\t%s\n", w.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(sw, "End\t%s\n", w.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(sw, "Duration\t%s\n", intOrDash(w.DurationSeconds, "s"))
	fmt.Fprintf(sw, "Distance\t%s\n", floatOrDash(w.DistanceKm, " km"))
	fmt.Fprintf(sw, "Avg pace\t%s\n", stringOrDash(w.AvgPace))
	fmt.Fprintf(sw, "Avg HR\t%s\n", intOrDash(w.AvgHeartRate, ""))
	fmt.Fprintf(sw, "Max HR\t%s\n", intOrDash(w.MaxHeartRate, ""))
	fmt.Fprintf(sw, "Elevation gain\t%s\n", intOrDash(w.ElevationGain, " m"))
	sw.Flush()
}

func printTimeline(out io.Writer, points []types.TimelinePoint, limit int) {
	fmt.Fprintf(out, "\n=== TIMELINE: %d points ===\n", len(points))
	if len(points) == 0 {
		return
	}
	shown := points
	if limit > 0 && len(points) > limit {
		shown = points[:limit]
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTime\tHR\tPace\tAltitude\tDistance\tCadence")
	fmt.Fprintln(tw, "-\t----\t--\t----\t--------\t--------\t-------")
	for i, p := range shown {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, p.Timestamp.Format("15:04:05"),
			intOrDash(p.HeartRate, ""), stringOrDash(p.Pace),
			floatOrDash(p.Altitude, ""), floatOrDash(p.Distance, ""), intOrDash(p.Cadence, ""))
	}
	tw.Flush()
	if len(shown) < len(points) {
		fmt.Fprintf(out, "(%d more points not shown)\n", len(points)-len(shown))
	}
}

func intOrDash(v *int, suffix string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d%s", *v, suffix)
}

func floatOrDash(v *float64, suffix string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%s", *v, suffix)
}

func stringOrDash(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
