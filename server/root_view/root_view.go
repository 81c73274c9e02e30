package root_view

import (
	"context"
	"html/template"
	"io"

	"trackworld/server/fastview"
	"trackworld/server/track_views"
)

// RootView is the main page: the container of the track views, the
// websocket bootstrap code and the wiring of their chans.
type RootView struct {
	views   []fastview.ViewComponent
	updates <-chan []fastview.EleUpdate
}

// NewRootView builds the track views over the snapshot source.
func NewRootView(
	ctx context.Context,
	snapshots <-chan track_views.Snapshot,
) (*RootView, error) {
	views, updates, err := fastview.NewViewBuilder[track_views.Snapshot, track_views.TrackModel]().
		WithContext(ctx).
		WithModel(snapshots, track_views.Convert).
		WithView(func(
			done <-chan struct{},
			models <-chan track_views.TrackModel) fastview.ViewComponent {
			return track_views.NewPositions(done, models)
		}).
		WithView(func(
			done <-chan struct{},
			models <-chan track_views.TrackModel) fastview.ViewComponent {
			return track_views.NewValuesGrid(done, models)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	return &RootView{
		views:   views,
		updates: updates,
	}, nil
}

// Updates returns the batched element updates of all the views.
func (rv *RootView) Updates() <-chan []fastview.EleUpdate {
	return rv.updates
}

// Parse builds the main page's template and returns its name. The func-map
// defined here is shared by the child views.
func (rv *RootView) Parse(
	parent *template.Template,
) (name string, err error) {
	rt := parent.Funcs(
		template.FuncMap{
			"add":  func(i, j int) int { return i + j },
			"sub":  func(i, j int) int { return i - j },
			"mult": func(i, j int) int { return i * j },
			"div":  func(i, j int) int { return i / j },
		})

	var bodySpec string
	for _, vc := range rv.views {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			return "", parseErr
		}
		bodySpec += `{{ template "` + tname + `" . }}`
	}

	name = "mainpage"
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<title>trackworld</title>
			<link rel="icon" href="data:,">
			<script>
				const ws = new WebSocket("ws://" + window.location.host + "/ws");
				ws.onopen = function (event) {
					console.log("Web socket opened")
				};

				ws.onerror = function (event) {
					console.log('WebSocket error: ', event);
				};

				// The server pushes element updates: find each element and apply its ops.
				ws.onmessage = function (event) {
					items = JSON.parse(event.data)
					for (const update of items) {
						const ele = document.getElementById(update.EleId)
						if (ele === null) {
							continue
						}
						for (const op of update.Ops) {
							if (op.Key === "` + fastview.TEXT_CONTENT + `") {
								ele.textContent = op.Value;
							} else {
								ele.setAttribute(op.Key, op.Value)
							}
						}
					}
				}
			</script>
		</head>
		<body>
		<img src="/frame.png" alt="track" style="max-height:400px; padding:20px; vertical-align:top;">
		` + bodySpec + `
		</body></html>
	{{ end }}
	`

	_, err = rt.Parse(indexTemplate)
	return
}

// Render writes the main page for the given view-model.
func (rv *RootView) Render(w io.Writer, model track_views.TrackModel) error {
	t := template.New("index.html")
	tname, err := rv.Parse(t)
	if err != nil {
		return err
	}
	if _, err = t.Parse(`{{ template "` + tname + `" . }}`); err != nil {
		return err
	}
	return t.Execute(w, model)
}
