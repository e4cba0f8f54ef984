package commands

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resolve-bridge/internal/resolve"
	"resolve-bridge/internal/resolve/resolvetest"
)

func TestAddMarker_Precedence(t *testing.T) {
	cases := []struct {
		name string
		line string
		want resolve.Marker
	}{
		{
			name: "timecode wins",
			line: `{"cmd":"add_marker","timecode":"01:00:10:00","frame":5,"color":"Red","name":"n","note":"x","duration":3,"custom_data":"c"}`,
			want: resolve.Marker{Timecode: "01:00:10:00", Color: "Red", Name: "n", Note: "x", Duration: 3, CustomData: "c"},
		},
		{
			name: "frame converted at timeline rate",
			line: `{"cmd":"add_marker","frame":50}`,
			want: resolve.Marker{Timecode: "00:00:02:00", Color: "Blue", Duration: 1},
		},
		{
			name: "empty timecode falls through to frame",
			line: `{"cmd":"add_marker","timecode":"","frame":"26"}`,
			want: resolve.Marker{Timecode: "00:00:01:01", Color: "Blue", Duration: 1},
		},
		{
			name: "invalid frame uses playhead",
			line: `{"cmd":"add_marker","frame":"soon"}`,
			want: resolve.Marker{Timecode: "01:00:00:00", Color: "Blue", Duration: 1},
		},
		{
			name: "playhead by default",
			line: `{"cmd":"add_marker"}`,
			want: resolve.Marker{Timecode: "01:00:00:00", Color: "Blue", Duration: 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			tl := resolvetest.NewTimeline("Cut")
			tl.FrameRate = "25"
			f.attach(t, resolvetest.NewProject("P", tl))

			r, _, _ := f.run(t, tc.line)
			require.True(t, r.OK, errText(r))
			assert.JSONEq(t, `{"result":true}`, string(r.Data))
			assert.Equal(t, []resolve.Marker{tc.want}, tl.Markers())
		})
	}
}

func TestAddMarker_RefusedAndInvalidDuration(t *testing.T) {
	f := newFixture(t, nil)
	tl := resolvetest.NewTimeline("Cut")
	tl.RefuseMarkers = true
	f.attach(t, resolvetest.NewProject("P", tl))

	r, _, _ := f.run(t, `{"cmd":"add_marker"}`)
	require.True(t, r.OK)
	assert.JSONEq(t, `{"result":false}`, string(r.Data))

	r, _, _ = f.run(t, `{"cmd":"add_marker","duration":"long"}`)
	assert.Equal(t, "invalid duration", errText(r))
}

func TestGoto(t *testing.T) {
	f := newFixture(t, nil)
	tl := resolvetest.NewTimeline("Cut")
	f.attach(t, resolvetest.NewProject("P", tl))

	r, messages, _ := f.run(t, `{"cmd":"goto","frame":48}`)
	require.True(t, r.OK)
	assert.JSONEq(t, `{"result":true}`, string(r.Data))
	assert.Equal(t, []string{
		"Goto: requesting playhead move to 00:00:02:00",
		"Goto: playhead moved to 00:00:02:00",
	}, messages)
	tc, _ := tl.GetCurrentTimecode()
	assert.Equal(t, "00:00:02:00", tc)

	r, _, _ = f.run(t, `{"cmd":"goto","timecode":"01:02:03:04"}`)
	require.True(t, r.OK)
	tc, _ = tl.GetCurrentTimecode()
	assert.Equal(t, "01:02:03:04", tc)

	r, _, _ = f.run(t, `{"cmd":"goto","frame":"x"}`)
	assert.Equal(t, "Invalid frame", errText(r))

	r, _, _ = f.run(t, `{"cmd":"goto"}`)
	assert.Equal(t, "No timecode or frame provided", errText(r))
}

func spellcheckTimeline() (*resolvetest.Timeline, *resolvetest.Tool) {
	title := resolvetest.NewTextTool("  Helo world ")
	animated := &resolvetest.Tool{RegID: "TextPlus", Inputs: map[string]any{
		"StyledText": map[string]any{"10": "Frame ten", "20": "Frame twenty"},
	}}
	text3d := &resolvetest.Tool{RegID: "Text3D", Inputs: map[string]any{"Text": "Depth", "StyledText": "Depth styled"}}
	blur := &resolvetest.Tool{RegID: "Blur", Inputs: map[string]any{"StyledText": "ignored"}}
	empty := resolvetest.NewTextTool("   ")

	track1 := []*resolvetest.Item{
		{Name: "Title card", Start: 48, Comps: []*resolvetest.Comp{{Tools: map[string]*resolvetest.Tool{
			"Template": title,
			"Blur1":    blur,
			"Blank":    empty,
		}}}},
		{Name: "Plain clip", Start: 100},
	}
	track2 := []*resolvetest.Item{
		{Name: "Lower third", Start: 24, Comps: []*resolvetest.Comp{{Time: 10, Tools: map[string]*resolvetest.Tool{
			"Text3D1": text3d,
			"Anim":    animated,
		}}}},
	}
	return resolvetest.NewTimeline("Cut", track1, track2), title
}

func TestSpellcheck(t *testing.T) {
	f := newFixture(t, nil)
	tl, _ := spellcheckTimeline()
	f.attach(t, resolvetest.NewProject("P", tl))

	r, _, _ := f.run(t, `{"id":1,"cmd":"spellcheck"}`)
	require.True(t, r.OK, errText(r))

	var data struct {
		Items []TextItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &data))
	assert.Equal(t, []TextItem{
		{Track: 1, Clip: "Title card", Tool: "Template", ToolID: "TextPlus", Timecode: "00:00:02:00", StartFrame: 48, Text: "Helo world"},
		{Track: 2, Clip: "Lower third", Tool: "Anim", ToolID: "TextPlus", Timecode: "00:00:01:00", StartFrame: 24, Text: "Frame ten"},
		{Track: 2, Clip: "Lower third", Tool: "Text3D1", ToolID: "Text3D", Timecode: "00:00:01:00", StartFrame: 24, Text: "Depth"},
		{Track: 2, Clip: "Lower third", Tool: "Text3D1", ToolID: "Text3D", Timecode: "00:00:01:00", StartFrame: 24, Text: "Depth styled"},
	}, data.Items)
}

func TestSpellcheck_EmptyTimeline(t *testing.T) {
	f := newFixture(t, nil)
	f.attach(t, resolvetest.NewProject("P", resolvetest.NewTimeline("Empty")))

	r, _, _ := f.run(t, `{"cmd":"spellcheck"}`)
	require.True(t, r.OK)
	assert.JSONEq(t, `{"items":[]}`, string(r.Data))
}

func TestUpdateText(t *testing.T) {
	f := newFixture(t, nil)
	tl, title := spellcheckTimeline()
	f.attach(t, resolvetest.NewProject("P", tl))

	r, _, _ := f.run(t, `{"cmd":"update_text","track":1,"start_frame":48,"tool_name":"Template","text":"Hello world"}`)
	require.True(t, r.OK, errText(r))
	assert.JSONEq(t, `{"result":true}`, string(r.Data))
	assert.Equal(t, "Hello world", title.Input("StyledText"))

	r, messages, _ := f.run(t, `{"cmd":"update_text","track":1,"start_frame":49,"tool_name":"Template","text":"x"}`)
	require.True(t, r.OK)
	assert.JSONEq(t, `{"result":false}`, string(r.Data))
	assert.Equal(t, []string{"No item starts at frame 49 on track 1"}, messages)

	r, messages, _ = f.run(t, `{"cmd":"update_text","track":1,"start_frame":48,"tool_name":"Missing","text":"x"}`)
	require.True(t, r.OK)
	assert.JSONEq(t, `{"result":false}`, string(r.Data))
	assert.Equal(t, []string{"Tool 'Missing' not found"}, messages)

	r, _, _ = f.run(t, `{"cmd":"update_text","track":"one"}`)
	assert.Equal(t, "invalid track", errText(r))
}
