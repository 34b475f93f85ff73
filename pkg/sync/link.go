package sync

import "os"

// linkFile creates a hardlink. afero has no Link surface, so this goes
// straight to the OS; tests swap it out together with the fs var.
var linkFile = os.Link
