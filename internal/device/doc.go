// Package device holds the emulated ANPR sensor's state.
//
// The Store owns one State: lock flag and password hash, barrier status,
// configuration tree, plate database, last recognition and counters. Other
// components never hold a mutable alias to it. They read deep copies with
// Read and change it through Mutate, which applies a function to a private
// copy and commits only if the function returns nil.
//
// # Notifications
//
// A mutation flagged with Tx.MarkConfigChanged or Tx.MarkInfoChanged returns
// a Change carrying the configChanges / infoChanges documents. The store does
// not publish them; the caller forwards the Change to the event broadcaster
// after Mutate returns, so fan-out never happens under the store lock.
//
// # Recognition synthesis
//
// Tx.Synthesize produces a Recognition from the simulation Settings
// (success rate, plate list or pattern, reliability, error injection).
// It lives here because it reads settings and updates LastRecognition and
// counters in the same critical section.
//
// # Usage
//
//	store, err := device.NewStore(device.Options{Identity: id, Simulation: sim})
//	if err != nil {
//	    return err
//	}
//
//	ch, err := store.Mutate(func(tx *device.Tx) error {
//	    if err := tx.RequireUnlocked(); err != nil {
//	        return err
//	    }
//	    tx.ResetConfig() // config-affecting
//	    return nil
//	})
//	broadcaster.PublishChange(ch)
//
// # Thread Safety
//
// The Store is safe for concurrent use. Mutate callbacks must not block.
package device
