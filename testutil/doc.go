// Package testutil provides testing utilities for baggo.
//
// This package is intended for use in tests only. It builds real ROS
// bag v2.0 files, including deliberately truncated or corrupted ones,
// so parser, ingestion and replay tests can run against genuine bytes
// instead of mocks.
//
//	bag := testutil.NewBag().
//	    Connection(0, "/imu", "sensor_msgs/Imu").
//	    Chunk(testutil.Msg{Conn: 0, Time: t0, Data: payload})
//	err := bag.WriteFile(filepath.Join(dir, "run_01.bag"))
package testutil
