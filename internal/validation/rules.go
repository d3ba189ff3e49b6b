package validation

func registerBuiltins(v *Validator) {
	v.Register("list_assets",
		Enum("kind", []string{"image", "video", "audio"}, ""),
		Int("limit", 1, 100, int64p(20)),
	)

	v.Register("generate_image",
		String("prompt", true, 5, 2000),
		Int("count", 1, 4, int64p(1)),
		Enum("aspect_ratio", []string{"1:1", "16:9", "9:16", "4:3"}, "16:9"),
		StringList("reference_asset_ids", 0, 4),
	)

	v.Register("generate_video",
		String("prompt", true, 5, 2000),
		Int("duration_seconds", 1, 10, int64p(5)),
		String("image_asset_id", false, 0, 0),
		StringList("reference_asset_ids", 0, 0),
		func(c *Checker) {
			total := listLen(c.Args, "reference_asset_ids")
			if _, ok := c.Args["image_asset_id"]; ok {
				total++
			}
			if total > 3 {
				c.Errorf("at most 3 images in total, got %d including image_asset_id", total)
			}
		},
	)

	v.Register("generate_audio",
		String("text", true, 1, 5000),
		Enum("kind", []string{"speech", "music", "sfx"}, "speech"),
		String("voice", false, 0, 64),
		Int("duration_seconds", 1, 120, int64p(10)),
		func(c *Checker) {
			if _, ok := c.Args["voice"]; ok && c.Args["kind"] != "speech" {
				c.Warnf("voice is ignored for %v", c.Args["kind"])
			}
		},
	)

	v.Register("add_clip",
		String("asset_id", true, 0, 0),
		Int("track", 0, 7, int64p(0)),
		Int("start_ms", 0, 24*60*60*1000, int64p(0)),
		RequiredInt("duration_ms", 1, 24*60*60*1000),
	)

	v.Register("update_clip",
		String("clip_id", true, 0, 0),
		Int("track", 0, 7, nil),
		Int("start_ms", 0, 24*60*60*1000, nil),
		Int("duration_ms", 1, 24*60*60*1000, nil),
		func(c *Checker) {
			for _, key := range []string{"track", "start_ms", "duration_ms"} {
				if _, ok := c.Args[key]; ok {
					return
				}
			}
			c.Errorf("at least one of track, start_ms or duration_ms is required")
		},
	)

	v.Register("rename_project",
		String("name", true, 1, 120),
	)

	v.Register("delete_asset",
		StringList("asset_ids", 1, 20),
	)

	v.Register("remove_clip",
		String("clip_id", true, 0, 0),
	)
}
