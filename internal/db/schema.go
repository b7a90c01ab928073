package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- CHECKPOINT_BLOB TABLE (checkpoints and evidence queue state)
    -- ==========================================================================
    -- Record ID is the blob key, e.g. checkpoints/<session>/<timestamp>.json
    DEFINE TABLE IF NOT EXISTS checkpoint_blob SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS key ON checkpoint_blob TYPE string;
    DEFINE FIELD IF NOT EXISTS data ON checkpoint_blob TYPE bytes;
    DEFINE FIELD IF NOT EXISTS size ON checkpoint_blob TYPE int;
    -- Only set on first write; UPSERT leaves an existing value alone
    DEFINE FIELD IF NOT EXISTS created ON checkpoint_blob TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS modified ON checkpoint_blob TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS checkpoint_blob_key ON checkpoint_blob FIELDS key UNIQUE;
`
