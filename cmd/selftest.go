// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/alyssaaa7/pintosfs/filesys"
	"github.com/spf13/cobra"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the write-coalescing, hit-rate, seek, unlink and growth scenarios against a real file-backed device",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := appConfig.Device.Path
		if path == "" {
			path = "pintosfs.selftest.img"
		}
		defer os.Remove(path)

		out := cmd.OutOrStdout()
		failed := 0
		for _, c := range selftestCases {
			if err := runSelftestCase(path, c); err != nil {
				fmt.Fprintf(out, "FAIL %-28s %v\n", c.name, err)
				failed++
			} else {
				fmt.Fprintf(out, "PASS %-28s\n", c.name)
			}
			os.Remove(path)
		}
		if failed > 0 {
			return fmt.Errorf("%d/%d scenarios failed", failed, len(selftestCases))
		}
		fmt.Fprintf(out, "all %d scenarios passed\n", len(selftestCases))
		return nil
	},
}

type selftestCase struct {
	name string
	run  func(ctx context.Context, fs *filesys.FS, sess *filesys.Session) error
}

var selftestCases = []selftestCase{
	{"write-coalescing", selftestWriteCoalescing},
	{"hit-rate-improvement", selftestHitRateImprovement},
	{"seek-correctness", selftestSeekCorrectness},
	{"unlink-while-open", selftestUnlinkWhileOpen},
	{"directory-growth", selftestDirectoryGrowth},
}

func runSelftestCase(path string, c selftestCase) error {
	ctx := context.Background()
	dev, err := blockdevice.CreateFileDevice(path, 8192)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	fs, err := filesys.Mount(dev, true, cfg.DefaultCacheSlots, nil, nil)
	if err != nil {
		dev.Close()
		return fmt.Errorf("mount: %w", err)
	}
	defer func() {
		fs.Shutdown(ctx)
		dev.Close()
	}()

	sess := filesys.NewSession()
	return c.run(ctx, fs, sess)
}

func selftestWriteCoalescing(ctx context.Context, fs *filesys.FS, sess *filesys.Session) error {
	if err := fs.Create(ctx, sess, "/foonew", false); err != nil {
		return err
	}
	h, err := fs.Open(ctx, sess, "/foonew")
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	const n = 64 * 1024
	one := make([]byte, 1)
	for i := 0; i < n; i++ {
		one[0] = byte(i)
		if _, err := h.Write(ctx, one); err != nil {
			return err
		}
	}
	if writes := fs.DeviceWrites(); writes <= 70 || writes >= 200 {
		return fmt.Errorf("device writes %d out of expected (70, 200) range", writes)
	}
	return nil
}

func selftestHitRateImprovement(ctx context.Context, fs *filesys.FS, sess *filesys.Session) error {
	if err := fs.Create(ctx, sess, "/newfoo", false); err != nil {
		return err
	}
	h, err := fs.Open(ctx, sess, "/newfoo")
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	chunk := make([]byte, 512)
	writeTwoChunks := func() error {
		h.Seek(0)
		if _, err := h.Write(ctx, chunk); err != nil {
			return err
		}
		_, err := h.Write(ctx, chunk)
		return err
	}

	if err := writeTwoChunks(); err != nil {
		return err
	}
	coldHits, coldAccesses := fs.BufferHits(), fs.BufferAccesses()

	if err := writeTwoChunks(); err != nil {
		return err
	}
	hotHits := fs.BufferHits() - coldHits
	hotAccesses := fs.BufferAccesses() - coldAccesses

	if float64(hotAccesses)*float64(coldHits)-float64(coldAccesses)*float64(hotHits) >= 0 {
		return fmt.Errorf("second pass did not improve hit rate")
	}
	return nil
}

func selftestSeekCorrectness(ctx context.Context, fs *filesys.FS, sess *filesys.Session) error {
	if err := fs.Create(ctx, sess, "/f", false); err != nil {
		return err
	}
	h, err := fs.Open(ctx, sess, "/f")
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	h.Seek(1000)
	if _, err := h.Write(ctx, []byte("tail")); err != nil {
		return err
	}
	size, err := h.Filesize(ctx)
	if err != nil {
		return err
	}
	if size != 1004 {
		return fmt.Errorf("filesize = %d, want 1004", size)
	}

	hole := make([]byte, 10)
	h.Seek(990)
	if _, err := h.Read(ctx, hole); err != nil {
		return err
	}
	for _, b := range hole {
		if b != 0 {
			return fmt.Errorf("hole byte = %#x, want 0", b)
		}
	}
	return nil
}

func selftestUnlinkWhileOpen(ctx context.Context, fs *filesys.FS, sess *filesys.Session) error {
	if err := fs.Create(ctx, sess, "/f", false); err != nil {
		return err
	}
	h, err := fs.Open(ctx, sess, "/f")
	if err != nil {
		return err
	}
	if _, err := h.Write(ctx, []byte("still here")); err != nil {
		return err
	}
	homeSector := h.Inumber()

	if err := fs.Remove(ctx, sess, "/f"); err != nil {
		return err
	}
	if !fs.FreeMap.IsAllocated(homeSector) {
		return fmt.Errorf("home sector freed while still open")
	}
	if err := h.Close(ctx); err != nil {
		return err
	}
	if fs.FreeMap.IsAllocated(homeSector) {
		return fmt.Errorf("home sector not freed after last close")
	}
	return nil
}

func selftestDirectoryGrowth(ctx context.Context, fs *filesys.FS, sess *filesys.Session) error {
	if err := fs.Mkdir(ctx, sess, "/d"); err != nil {
		return err
	}
	for i := 0; i < 20; i++ {
		if err := fs.Create(ctx, sess, fmt.Sprintf("/d/f%d", i), false); err != nil {
			return err
		}
	}
	if err := fs.Remove(ctx, sess, "/d"); err == nil {
		return fmt.Errorf("rmdir of non-empty directory unexpectedly succeeded")
	}
	for i := 0; i < 20; i++ {
		if err := fs.Remove(ctx, sess, fmt.Sprintf("/d/f%d", i)); err != nil {
			return err
		}
	}
	return fs.Remove(ctx, sess, "/d")
}
