package session

import "net"

// ReadHook supplies file content for a server-side download when the
// requested path doesn't exist on disk, letting a caller serve generated
// content (e.g. a boot manifest) without a backing file.
type ReadHook func(filename string, raddr *net.UDPAddr) (FileObject, error)

// WriteHook redirects a server-side upload's destination, letting a caller
// reject or relocate a write instead of opening full_path directly.
type WriteHook func(fullPath string, raddr *net.UDPAddr) (FileObject, error)
