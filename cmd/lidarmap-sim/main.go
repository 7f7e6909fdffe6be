// Package main simulates a short odometry run against both local map
// strategies using synthetic scans, logging window and correspondence
// statistics per update.
package main

import (
	"flag"
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/meridian-robotics/lidarmap/localmap"
	"github.com/meridian-robotics/lidarmap/projection"
	"github.com/meridian-robotics/lidarmap/spatialmath"
)

func main() {
	numFrames := flag.Int("frames", 10, "number of synthetic frames to register")
	pointsPerFrame := flag.Int("points", 2000, "points per synthetic frame")
	windowSize := flag.Int("window", 5, "local map window size")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	logger := golog.NewLogger("lidarmap-sim")

	projector, err := projection.NewSphericalProjector(projection.SphericalConfig{
		Width:        360,
		Height:       64,
		MinElevation: -25,
		MaxElevation: 15,
		MinRange:     1,
	})
	if err != nil {
		logger.Fatal(err)
	}

	kdCfg := localmap.DefaultConfig(localmap.StrategyKdTree)
	kdCfg.WindowSize = *windowSize
	kdMap, err := localmap.New(kdCfg, nil, logger)
	if err != nil {
		logger.Fatal(err)
	}

	projCfg := localmap.DefaultConfig(localmap.StrategyProjective)
	projCfg.WindowSize = *windowSize
	projMap, err := localmap.New(projCfg, projector, logger)
	if err != nil {
		logger.Fatal(err)
	}

	r := rand.New(rand.NewSource(*seed))
	// constant forward motion with a slight yaw per frame
	step := spatialmath.NewPoseFromAxisAngle(r3.Vector{Z: 1}, 0.02, r3.Vector{X: 0.4})

	for i := 0; i < *numFrames; i++ {
		scan := synthesizeScan(r, *pointsPerFrame)
		frame := &localmap.Frame{Points: scan}

		pose := step
		if i == 0 {
			pose = spatialmath.NewZeroPose()
		}
		if err := kdMap.Update(pose, frame); err != nil {
			logger.Fatal(err)
		}
		if err := projMap.Update(pose, frame); err != nil {
			logger.Fatal(err)
		}

		queries := scan[:len(scan)/4]
		kdRes, err := kdMap.NearestNeighborSearch(queries, true, false)
		if err != nil {
			logger.Fatal(err)
		}
		projRes, err := projMap.NearestNeighborSearch(queries, true, true)
		if err != nil {
			logger.Fatal(err)
		}

		logger.Infow("registered frame",
			"frame", i,
			"queries", len(queries),
			"kdtree_matches", len(kdRes.NeighborPoints),
			"projective_matches", len(projRes.NeighborPoints),
		)
	}

	last, err := kdMap.LastFrame()
	if err != nil {
		logger.Fatal(err)
	}
	logger.Infow("done", "last_frame_points", len(last))
}

// synthesizeScan samples a noisy cylinder of walls around the sensor, the
// kind of structure a spinning lidar sees indoors.
func synthesizeScan(r *rand.Rand, n int) []r3.Vector {
	out := make([]r3.Vector, n)
	for i := range out {
		azimuth := r.Float64()*2*math.Pi - math.Pi
		dist := 8 + r.NormFloat64()*0.05
		z := r.Float64()*3 - 1.5
		out[i] = r3.Vector{
			X: dist * math.Cos(azimuth),
			Y: dist * math.Sin(azimuth),
			Z: z,
		}
	}
	return out
}
