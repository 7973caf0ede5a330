// Package transformfs layers composable streaming transforms (compression,
// single-entry archiving and authenticated encryption) in front of a
// path-addressed storage backend. Content is encoded on its way to storage
// and reconstituted on its way out, invisibly to callers.
//
// # Overview
//
// A Proxy implements Backend on top of another Backend. Every file written
// through it runs through a Pipeline of Transforms and is stored under its
// logical path plus the extensions of all stages, in order:
//
//	/report.csv  ->  /report.csv.zip.gz.encrypted
//
// Reads strip and decode the stages in reverse. Listings hide every entry
// that does not carry the full extension, so several proxies with different
// pipelines can share one backend.
//
// # Transforms
//
//   - GzipCodec: RFC 1952 single-member container carrying the base name
//     of the file. CRC32 and ISIZE are verified on decode.
//   - ZipCodec: streaming, ZIP64-capable single-entry archive with sizes
//     deferred to a data descriptor. The output opens in any ZIP reader.
//   - ChunkedCipher: XChaCha20-Poly1305 secret stream. A 24-byte header is
//     followed by 8192-byte sealed units; the last one is tagged final so
//     truncation is always detected.
//
// Each Transform hands out a fresh Filter per stream. Filters consume input
// in any split and produce identical output regardless of how the input was
// fed.
//
// # Basic Usage
//
//	backend, _ := transformfs.NewLocalBackend("/var/lib/store")
//	keys, _ := transformfs.NewStaticKeyProvider(os.Getenv("STORE_KEY"))
//	cipher, _ := transformfs.NewChunkedCipher(keys)
//
//	fs, err := transformfs.New(backend, &transformfs.Config{
//	    Transforms: []transformfs.Transform{
//	        transformfs.NewZipCodec(),
//	        transformfs.NewGzipCodec(),
//	        cipher,
//	    },
//	})
//	if err != nil {
//	    panic(err)
//	}
//
//	fs.Write("/report.csv", data)
//	data, err = fs.Read("/report.csv")
//
// # Keys
//
// Cipher keys are 32 random bytes exchanged as standard base64; GenerateKey
// produces one. Keys can also come from an environment variable or be
// derived from a password with Argon2id (recommended) or PBKDF2. The raw key
// is requested once per stream and wiped right after the stream state has
// been derived.
//
// # Errors
//
// Integrity failures on decode are CorruptionErrors wrapping ErrAuthFailed,
// ErrTruncated, ErrChecksum or ErrInvalidHeader. Bad configuration is a
// ConfigurationError. Move and Copy with a working copy configured fail with
// an UnsupportedOperationError.
//
// # Maintenance
//
// Rotate and RotateAll re-encode stored files from an old pipeline (an old
// key, or different stages) to the proxy's own. Verify and VerifyAll decode
// files without returning their content. Both bulk operations process files
// concurrently according to a ParallelConfig.
package transformfs
