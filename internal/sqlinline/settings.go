package sqlinline

const QSelectBatchSettings = `--sql 8a86654d-12c1-426c-8806-ec7341809742
select
  (value->>'jobs_per_batch')::int,
  (value->>'inter_batch_delay_seconds')::int
from app_settings
where key = 'batch'
limit 1;
`

const QUpsertBatchSettings = `--sql ff9aa209-a19d-4475-9e8a-8371a69147d7
insert into app_settings (key, value, updated_at)
values ('batch', jsonb_build_object('jobs_per_batch', $1::int, 'inter_batch_delay_seconds', $2::int), now())
on conflict (key) do update set
  value = excluded.value,
  updated_at = now();
`
