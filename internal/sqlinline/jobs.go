package sqlinline

const QInsertJob = `--sql 3bd7ddb1-4f4f-4bf6-aa4b-cc0a8116a136
with input as (
  select
    $1::uuid as id,
    $2::text as user_id,
    $3::text as prompt,
    $4::text as aspect_ratio,
    nullif($5::text, '')::uuid as regenerated_from
),
next_seq as (
  select coalesce(max(sequence), 0) + 1 as sequence
  from generation_jobs
  where user_id = (select user_id from input)
)
insert into generation_jobs(
  id,
  user_id,
  prompt,
  aspect_ratio,
  sequence,
  status,
  regenerated_from,
  created_at,
  updated_at
)
select
  input.id,
  input.user_id,
  input.prompt,
  input.aspect_ratio,
  next_seq.sequence,
  'queued',
  input.regenerated_from,
  now(),
  now()
from input, next_seq
returning sequence, created_at, updated_at;
`

const QSelectJob = `--sql 5ed675cf-b871-4a88-b2ee-48f0fbe6c403
select
  id::text,
  user_id,
  prompt,
  aspect_ratio,
  sequence,
  status,
  coalesce(artifact_url, ''),
  coalesce(error_message, ''),
  coalesce(credential_id, ''),
  coalesce(operation_name, ''),
  coalesce(correlation_id, ''),
  retried,
  coalesce(regenerated_from::text, ''),
  created_at,
  updated_at
from generation_jobs
where id = $1::uuid
limit 1;
`

// QUpdateJobStatus only matches rows whose current status is listed in $6,
// which keeps terminal records closed.
const QUpdateJobStatus = `--sql 4d219e13-7c51-4587-a1be-2d8521f2924f
update generation_jobs
set
  status = $2::text,
  artifact_url = coalesce(nullif($3::text, ''), artifact_url),
  error_message = coalesce(nullif($4::text, ''), error_message),
  credential_id = coalesce(nullif($5::text, ''), credential_id),
  updated_at = now()
where id = $1::uuid
  and status = any($6::text[]);
`

const QRecordJobSubmission = `--sql fe242813-9cee-438b-b90a-fd3d7745b985
update generation_jobs
set
  credential_id = $2::text,
  operation_name = $3::text,
  correlation_id = $4::text,
  retried = retried or $5::boolean,
  updated_at = now()
where id = $1::uuid
  and status not in ('completed', 'failed');
`

const QFailStaleQueuedJobs = `--sql bb0c6f40-3f2d-4922-9962-f82ec16465b5
update generation_jobs
set
  status = 'failed',
  error_message = $2::text,
  updated_at = now()
where status = 'queued'
  and created_at < $1::timestamptz;
`
