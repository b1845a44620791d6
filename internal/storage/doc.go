// Package storage provides the blob store used by both the origin and every
// replica: a flat namespace of named, opaque video objects with existence
// checks, streamed reads and whole-object writes.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   Origin / Replica HTTP handlers    │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          BlobStore interface        │
//	└─────────────────────────────────────┘
//	          │                  │
//	          ▼                  ▼
//	    ┌───────────┐      ┌───────────┐
//	    │ DiskStore │      │MemoryStore│
//	    └───────────┘      └───────────┘
//
// # Names
//
// Every operation validates the object name with ValidateName before it
// touches the namespace. Names containing a path separator, a parent or
// current directory segment, a NUL byte, or a leading dot are rejected with
// ErrInvalidName. Exists reports such names as absent. A name can therefore
// never address a file outside the store's root.
//
// # Visibility
//
// An object is visible to Exists, Open and List only after Write has consumed
// the entire input. DiskStore streams into a hidden temp file and renames it
// into place; MemoryStore buffers the input before taking its lock. Readers
// never observe a truncated object, and an object that is being streamed out
// is unaffected by a concurrent overwrite.
//
// # Errors
//
// ErrNotFound: no object under the name (a normal outcome, served as 404)
//
// ErrInvalidName: name rejected before touching storage
//
// Any other error is a storage failure and is surfaced as a 500 by callers.
//
// # Usage
//
//	store, err := storage.NewDiskStore("videos")
//	if err != nil {
//	    return err
//	}
//
//	if _, err := store.Write("clip.mp4", r.Body); err != nil {
//	    return err
//	}
//
//	rc, err := store.Open("clip.mp4")
//	if errors.Is(err, storage.ErrNotFound) {
//	    // 404
//	}
//	defer rc.Close()
package storage
